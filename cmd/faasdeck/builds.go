package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/splax/faasdeck/internal/console"
	"github.com/splax/faasdeck/internal/domain"
	"github.com/splax/faasdeck/internal/source"
)

// sourceFlags collects the flags that describe a build source.
type sourceFlags struct {
	git      string
	ref      string
	path     string
	zip      string
	dir      string
	manifest string
	runtime  string
}

func (f *sourceFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.git, "git", "", "Git repository URL")
	fs.StringVar(&f.ref, "ref", "", "Git ref (branch, tag or commit)")
	fs.StringVar(&f.path, "path", "", "Sub directory inside the repository")
	fs.StringVar(&f.zip, "zip", "", "Zip archive to upload")
	fs.StringVar(&f.dir, "dir", "", "Local directory to zip and upload")
	fs.StringVar(&f.manifest, "manifest", "", "docker-faas.yaml overriding the one in the source")
	fs.StringVar(&f.runtime, "runtime", "", "Runtime override")
}

func (f *sourceFlags) spec() (domain.SourceSpec, error) {
	var (
		spec domain.SourceSpec
		err  error
		set  int
	)
	for _, v := range []string{f.git, f.zip, f.dir} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return domain.SourceSpec{}, errors.New("exactly one of --git, --zip or --dir is required")
	}
	switch {
	case f.git != "":
		spec = source.Git(f.git, f.ref, f.path)
	case f.zip != "":
		spec, err = source.ZipFile(f.zip)
	default:
		spec, err = source.ZipDir(f.dir)
	}
	if err != nil {
		return domain.SourceSpec{}, err
	}
	spec.Runtime = strings.TrimSpace(f.runtime)
	if f.manifest != "" {
		data, err := os.ReadFile(f.manifest)
		if err != nil {
			return domain.SourceSpec{}, fmt.Errorf("read manifest: %w", err)
		}
		spec.Manifest = string(data)
	}
	return spec, nil
}

func commandBuild(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: faasdeck build [inspect|submit]")
	}
	sub := args[0]
	switch sub {
	case "inspect":
		return buildInspect(args[1:])
	case "submit":
		return buildSubmit(args[1:])
	default:
		return fmt.Errorf("unknown build command: %s", sub)
	}
}

func buildInspect(args []string) error {
	fs := pflag.NewFlagSet("build inspect", pflag.ExitOnError)
	var src sourceFlags
	src.register(fs)
	name := fs.String("name", "", "Function name")
	parseFlags(fs, args)
	spec, err := src.spec()
	if err != nil {
		return err
	}

	return withSession(func(ctx context.Context, a *app) error {
		resp, err := a.console.Inspect(ctx, console.BuildInput{Name: *name, Source: spec})
		if err != nil {
			return err
		}
		fmt.Printf("name:    %s\nruntime: %s\n", resp.Name, resp.Runtime)
		if resp.Command != "" {
			fmt.Printf("command: %s\n", resp.Command)
		}
		for _, f := range a.console.Files() {
			mode := "ro"
			if f.Editable {
				mode = "rw"
			}
			fmt.Printf("%s\t%s\n", mode, f.Path)
		}
		return nil
	})
}

func buildSubmit(args []string) error {
	fs := pflag.NewFlagSet("build submit", pflag.ExitOnError)
	var src sourceFlags
	src.register(fs)
	name := fs.String("name", "", "Function name (default: manifest name)")
	noDeploy := fs.Bool("no-deploy", false, "Build the image without deploying it")
	sets := fs.StringArray("set", nil, "Override a source file: path=localfile (repeatable)")
	removes := fs.StringArray("remove", nil, "Drop a source file (repeatable)")
	parseFlags(fs, args)
	spec, err := src.spec()
	if err != nil {
		return err
	}
	overrides := make(map[string]string, len(*sets))
	for _, raw := range *sets {
		target, local, ok := strings.Cut(raw, "=")
		if !ok || target == "" || local == "" {
			return fmt.Errorf("invalid --set %q, want path=localfile", raw)
		}
		data, err := os.ReadFile(local)
		if err != nil {
			return fmt.Errorf("read %s: %w", local, err)
		}
		overrides[target] = string(data)
	}

	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := a.resume(ctx); err != nil {
		return err
	}

	deploy := !*noDeploy
	in := console.BuildInput{Name: *name, Deploy: &deploy, Source: spec}
	if len(overrides) > 0 || len(*removes) > 0 {
		inspectCtx, cancelInspect := context.WithTimeout(ctx, requestTimeout)
		_, err := a.console.Inspect(inspectCtx, in)
		cancelInspect()
		if err != nil {
			return err
		}
		for target, content := range overrides {
			if _, err := a.console.AddFile(target); err != nil {
				return err
			}
			if err := a.console.EditFile(target, content); err != nil {
				return err
			}
		}
		for _, target := range *removes {
			if err := a.console.RemoveFile(target); err != nil {
				return err
			}
		}
	}

	fmt.Println("building...")
	entry, err := a.console.Submit(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("built %s in %s\n", entry.Image, (time.Duration(entry.DurationMs) * time.Millisecond).Round(time.Millisecond))
	switch {
	case entry.Updated:
		fmt.Printf("function updated: %s\n", entry.Name)
	case entry.Deployed:
		fmt.Printf("function deployed: %s\n", entry.Name)
	}
	return nil
}

func commandBuilds(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: faasdeck builds [list|show|clear|watch]")
	}
	sub := args[0]
	switch sub {
	case "list", "ls":
		return withSession(func(ctx context.Context, a *app) error {
			if err := a.console.RefreshHistory(ctx); err != nil {
				return err
			}
			for _, entry := range a.console.History().List() {
				printEntry(entry)
			}
			return nil
		})
	case "show":
		if len(args) != 2 {
			return errors.New("usage: faasdeck builds show <id>")
		}
		return withSession(func(ctx context.Context, a *app) error {
			entry, err := a.console.Build(ctx, args[1])
			if err != nil {
				return err
			}
			printEntry(entry)
			if entry.Error != "" {
				fmt.Printf("\nerror: %s\n", entry.Error)
			}
			if entry.Output != "" {
				fmt.Printf("\n%s\n", entry.Output)
			}
			if entry.Truncated {
				fmt.Println("(output truncated)")
			}
			return nil
		})
	case "clear":
		return withSession(func(ctx context.Context, a *app) error {
			if err := a.console.ClearHistory(ctx); err != nil {
				return err
			}
			fmt.Println("build history cleared")
			return nil
		})
	case "watch":
		return buildsWatch(args[1:])
	default:
		return fmt.Errorf("unknown builds command: %s", sub)
	}
}

func buildsWatch(args []string) error {
	fs := pflag.NewFlagSet("builds watch", pflag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (default $FAASDECK_METRICS_ADDR)")
	parseFlags(fs, args)

	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := a.resume(ctx); err != nil {
		return err
	}

	addr := *metricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	printed := make(map[string]string)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, entry := range a.console.History().List() {
					if printed[entry.ID] == entry.Status {
						continue
					}
					printed[entry.ID] = entry.Status
					printEntry(entry)
				}
			}
		}
	}()

	fmt.Fprintln(os.Stderr, "watching builds, press Ctrl+C to stop")
	return a.console.Watch(ctx)
}

func printEntry(entry domain.BuildEntry) {
	subject := entry.GitURL
	if entry.SourceType == domain.SourceZip {
		subject = entry.ZipName
	}
	started := "-"
	if !entry.StartedAt.IsZero() {
		started = entry.StartedAt.Local().Format(time.RFC3339)
	}
	fmt.Printf("%s\t%s\t%s\t%s\t%s\n", entry.ID, entry.Status, entry.Name, subject, started)
}
