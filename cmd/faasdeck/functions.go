package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/splax/faasdeck/internal/console"
)

func commandFunctions(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: faasdeck functions [list|deploy|update|delete|scale|replicas|logs|invoke]")
	}
	sub := args[0]
	switch sub {
	case "list", "ls":
		return functionsList(args[1:])
	case "deploy":
		return functionsDeploy(args[1:], false)
	case "update":
		return functionsDeploy(args[1:], true)
	case "delete", "rm":
		return functionsDelete(args[1:])
	case "scale":
		return functionsScale(args[1:])
	case "replicas":
		return functionsReplicas(args[1:])
	case "logs":
		return functionsLogs(args[1:])
	case "invoke":
		return functionsInvoke(args[1:])
	default:
		return fmt.Errorf("unknown functions command: %s", sub)
	}
}

func functionsList(args []string) error {
	fs := pflag.NewFlagSet("functions list", pflag.ExitOnError)
	parseFlags(fs, args)

	return withSession(func(ctx context.Context, a *app) error {
		fns, err := a.console.Functions(ctx)
		if err != nil {
			return err
		}
		for _, fn := range fns {
			fmt.Printf("%s\t%s\t%d/%d\t%d\n", fn.Name, fn.Image, fn.AvailableReplicas, fn.Replicas, fn.InvocationCount)
		}
		return nil
	})
}

func functionsDeploy(args []string, update bool) error {
	fs := pflag.NewFlagSet("functions deploy", pflag.ExitOnError)
	var in console.FunctionInput
	fs.StringVar(&in.Name, "name", "", "Function name")
	fs.StringVar(&in.Image, "image", "", "Container image")
	fs.StringVar(&in.Network, "network", "", "Network to attach")
	fs.StringVar(&in.EnvProcess, "env-process", "", "Process started by the watchdog")
	fs.StringVar(&in.EnvVars, "env", "", "Environment as a JSON object")
	fs.StringVar(&in.Labels, "labels", "", "Labels as a JSON object")
	fs.StringArrayVar(&in.Secrets, "secret", nil, "Secret to mount (repeatable)")
	fs.BoolVar(&in.ReadOnlyRootFilesystem, "read-only", false, "Mount the root filesystem read-only")
	fs.BoolVar(&in.Debug, "debug", false, "Enable debug mode")
	parseFlags(fs, args)

	return withSession(func(ctx context.Context, a *app) error {
		if update {
			if err := a.console.UpdateFunction(ctx, in); err != nil {
				return err
			}
			fmt.Printf("function updated: %s\n", in.Name)
			return nil
		}
		if err := a.console.DeployFunction(ctx, in); err != nil {
			return err
		}
		fmt.Printf("function deployed: %s\n", in.Name)
		return nil
	})
}

func functionsDelete(args []string) error {
	fs := pflag.NewFlagSet("functions delete", pflag.ExitOnError)
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		return errors.New("usage: faasdeck functions delete <name>")
	}

	return withSession(func(ctx context.Context, a *app) error {
		if err := a.console.DeleteFunction(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Println("function deleted")
		return nil
	})
}

func functionsScale(args []string) error {
	fs := pflag.NewFlagSet("functions scale", pflag.ExitOnError)
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		return errors.New("usage: faasdeck functions scale <name> <replicas>")
	}
	replicas, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("replicas must be a number: %w", err)
	}

	return withSession(func(ctx context.Context, a *app) error {
		if err := a.console.ScaleFunction(ctx, fs.Arg(0), replicas); err != nil {
			return err
		}
		fmt.Printf("scaled %s to %d replicas\n", fs.Arg(0), replicas)
		return nil
	})
}

func functionsReplicas(args []string) error {
	fs := pflag.NewFlagSet("functions replicas", pflag.ExitOnError)
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		return errors.New("usage: faasdeck functions replicas <name>")
	}

	return withSession(func(ctx context.Context, a *app) error {
		containers, err := a.console.Containers(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		for _, c := range containers {
			fmt.Printf("%s\t%s\t%s\n", c.Name, c.Status, c.IPAddress)
		}
		return nil
	})
}

func functionsLogs(args []string) error {
	fs := pflag.NewFlagSet("functions logs", pflag.ExitOnError)
	tail := fs.Int("tail", console.DefaultLogTail, "Number of lines")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		return errors.New("usage: faasdeck functions logs <name> [--tail N]")
	}

	return withSession(func(ctx context.Context, a *app) error {
		logs, err := a.console.Logs(ctx, fs.Arg(0), *tail)
		if err != nil {
			return err
		}
		fmt.Print(logs)
		return nil
	})
}

func functionsInvoke(args []string) error {
	fs := pflag.NewFlagSet("functions invoke", pflag.ExitOnError)
	method := fs.StringP("method", "X", http.MethodPost, "HTTP method")
	headers := fs.StringP("headers", "H", "", "Request headers as a JSON object")
	data := fs.StringP("data", "d", "", "Request body")
	dataFile := fs.String("data-file", "", "Read the request body from a file ('-' for stdin)")
	async := fs.Bool("async", false, "Queue the call and return its call id")
	verbose := fs.BoolP("verbose", "v", false, "Print status, latency and headers")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		return errors.New("usage: faasdeck functions invoke <name> [--method M] [--headers JSON] [--data body | --data-file f] [--async]")
	}
	body := *data
	if *dataFile != "" {
		var (
			raw []byte
			err error
		)
		if *dataFile == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(*dataFile)
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(raw)
	}

	return withSession(func(ctx context.Context, a *app) error {
		res, err := a.console.Invoke(ctx, console.InvokeInput{
			Name:    fs.Arg(0),
			Method:  *method,
			Headers: *headers,
			Body:    body,
			Async:   *async,
		})
		if err != nil {
			return err
		}
		if *verbose || *async {
			fmt.Fprintf(os.Stderr, "status:  %d %s\nlatency: %s\n", res.Status, res.StatusText, res.Latency.Round(time.Millisecond))
			if res.CallID != "" {
				fmt.Fprintf(os.Stderr, "call id: %s\n", res.CallID)
			}
		}
		if *verbose {
			keys := make([]string, 0, len(res.Headers))
			for k := range res.Headers {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(os.Stderr, "%s: %s\n", k, strings.Join(res.Headers[k], ", "))
			}
			fmt.Fprintln(os.Stderr)
		}
		if !*async {
			_, _ = os.Stdout.Write(res.Body)
		}
		if res.Truncated {
			fmt.Fprintln(os.Stderr, "(response truncated)")
		}
		if res.Status >= http.StatusBadRequest {
			return fmt.Errorf("function returned %d %s", res.Status, res.StatusText)
		}
		return nil
	})
}

func commandSecrets(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: faasdeck secrets [list|show|create|update|delete]")
	}
	sub := args[0]
	switch sub {
	case "list", "ls":
		return withSession(func(ctx context.Context, a *app) error {
			secrets, err := a.console.Secrets(ctx)
			if err != nil {
				return err
			}
			for _, s := range secrets {
				fmt.Println(s.Name)
			}
			return nil
		})
	case "show":
		if len(args) != 2 {
			return errors.New("usage: faasdeck secrets show <name>")
		}
		return withSession(func(ctx context.Context, a *app) error {
			secret, err := a.console.Secret(ctx, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s exists (values are write-only)\n", secret.Name)
			return nil
		})
	case "create", "update":
		return secretsStore(sub, args[1:])
	case "delete", "rm":
		if len(args) != 2 {
			return errors.New("usage: faasdeck secrets delete <name>")
		}
		return withSession(func(ctx context.Context, a *app) error {
			if err := a.console.DeleteSecret(ctx, args[1]); err != nil {
				return err
			}
			fmt.Println("secret deleted")
			return nil
		})
	default:
		return fmt.Errorf("unknown secrets command: %s", sub)
	}
}

func secretsStore(sub string, args []string) error {
	fs := pflag.NewFlagSet("secrets "+sub, pflag.ExitOnError)
	value := fs.String("value", "", "Secret value (supply to avoid prompt)")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: faasdeck secrets %s <name> [--value v]", sub)
	}
	secret := *value
	if secret == "" {
		var err error
		if secret, err = readSecret("Value: "); err != nil {
			return err
		}
	}

	return withSession(func(ctx context.Context, a *app) error {
		if sub == "update" {
			if err := a.console.UpdateSecret(ctx, fs.Arg(0), secret); err != nil {
				return err
			}
		} else if err := a.console.CreateSecret(ctx, fs.Arg(0), secret); err != nil {
			return err
		}
		fmt.Printf("secret %sd: %s\n", sub, fs.Arg(0))
		return nil
	})
}
