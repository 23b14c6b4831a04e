package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/nbweb/internal/auth"
	"github.com/keithlinneman/nbweb/internal/cfg"
	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/cors"
	"github.com/keithlinneman/nbweb/internal/health"
	"github.com/keithlinneman/nbweb/internal/httpmw"
	"github.com/keithlinneman/nbweb/internal/httpserver"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/metrics"
	"github.com/keithlinneman/nbweb/internal/opshttp"
	"github.com/keithlinneman/nbweb/internal/otelx"
	"github.com/keithlinneman/nbweb/internal/prof"
	"github.com/keithlinneman/nbweb/internal/ratelimit"
	"github.com/keithlinneman/nbweb/internal/secrets"
	v "github.com/keithlinneman/nbweb/internal/version"
	"github.com/keithlinneman/nbweb/internal/webapp"
)

// drainPeriod is how long readiness fails before listeners close.
const drainPeriod = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion, hashPassword bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.BoolVar(&hashPassword, "hash-password", false, "Read a password from stdin, print its bcrypt hash and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}
	if hashPassword {
		if err := printPasswordHash(); err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// flag > env (NBWEB_*) > default
	cfg.FillFromEnv(flag.CommandLine, "NBWEB_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"base_url", conf.BaseURL,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"contents_root", conf.ContentsRoot,
		"contents_s3_bucket", conf.ContentsS3Bucket,
		"contents_s3_prefix", conf.ContentsS3Prefix,
		"static_paths", []string(conf.StaticPaths),
		"template_paths", []string(conf.TemplatePaths),
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is only needed for SSM/KMS secrets and the S3 backend
	needSecrets := conf.CookieSecretSSM != "" || conf.CookieSecretKMS != "" || conf.PasswordHashSSM != ""
	var awsCfg *aws.Config
	if needSecrets || conf.ContentsS3Bucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	cookieSecret, passwordHash := conf.CookieSecret, conf.PasswordHash
	if needSecrets {
		store, err := secrets.New(ctx, secrets.Options{Logger: L, AWSConfig: awsCfg})
		if err != nil {
			L.Error(ctx, err, "failed to create secrets store")
			os.Exit(1)
		}
		if conf.CookieSecretKMS != "" {
			cookieSecret, err = store.Decrypt(ctx, conf.CookieSecretKMS)
		} else {
			cookieSecret, err = store.Resolve(ctx, conf.CookieSecret, conf.CookieSecretSSM)
		}
		if err != nil {
			L.Error(ctx, err, "failed to load cookie secret")
			os.Exit(1)
		}
		if passwordHash, err = store.Resolve(ctx, conf.PasswordHash, conf.PasswordHashSSM); err != nil {
			L.Error(ctx, err, "failed to load password hash")
			os.Exit(1)
		}
	}

	authenticator, err := auth.New(auth.Options{
		Logger:       L,
		CookieName:   conf.CookieName,
		Secret:       []byte(cookieSecret),
		PasswordHash: passwordHash,
		CookiePath:   conf.BaseURL,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create authenticator")
		os.Exit(1)
	}
	if !authenticator.LoginAvailable() {
		L.Warn(ctx, "no password configured, every request is served as anonymous")
	}

	mgr, err := newContentsManager(ctx, L, conf, awsCfg, m)
	if err != nil {
		L.Error(ctx, err, "failed to create contents manager")
		os.Exit(1)
	}

	policy, err := cors.New(cors.Options{
		AllowOrigin:      conf.AllowOrigin,
		AllowOriginPat:   conf.AllowOriginPat,
		AllowCredentials: conf.AllowCredentials,
	})
	if err != nil {
		L.Error(ctx, err, "invalid cors configuration")
		os.Exit(1)
	}

	loginLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.LoginRatePerSecond, conf.LoginBurst),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// logged once per client until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "login rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "login rate limit capacity reached, rejecting new clients until some are evicted")
		}),
	)

	app, err := webapp.New(webapp.Options{
		Logger:        L,
		BaseURL:       conf.BaseURL,
		WebsocketURL:  conf.WebsocketURL,
		Auth:          authenticator,
		Contents:      mgr,
		CORS:          policy,
		LoginLimiter:  loginLimiter,
		StaticPaths:   conf.StaticPaths,
		TemplatePaths: conf.TemplatePaths,
		Hooks: webapp.Hooks{
			StaticLookup: m.ObserveStaticLookup,
			Hidden:       m.HiddenRefused,
			APIError:     m.IncAPIError,
			Login:        m.ObserveLogin,
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to assemble web application")
		os.Exit(1)
	}

	// not ready until both listeners are up
	var gate health.ShutdownGate
	gate.Set("starting")
	readiness := health.All(
		gate.Probe(),
		health.Timeout(health.Contents(mgr), 2*time.Second),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:           L,
		Port:             conf.HTTPPort,
		Routes:           app.Routes,
		NotFound:         app.NotFound,
		MethodNotAllowed: app.MethodNotAllowed,
		Headers:          conf.Headers.Map(),
		MaxBodyBytes:     conf.MaxBodyBytes,
		ClientIPOpts:     httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		UseRecoverMW:     true,
		OnPanic:          m.IncHttpPanic,
		MetricsMW:        m.Middleware,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start notebook http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener must never be exposed publicly
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	gate.Clear()
	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")

	L.Info(context.Background(), "draining", "period", drainPeriod.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "notebook http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// newContentsManager picks the S3 backend when a bucket is configured and
// the local directory otherwise.
func newContentsManager(ctx context.Context, L log.Logger, conf cfg.App, awsCfg *aws.Config, m *metrics.ServerMetrics) (contents.Manager, error) {
	if conf.ContentsS3Bucket != "" {
		mgr, err := contents.NewS3Manager(ctx, contents.S3Options{
			Logger:    L,
			Bucket:    conf.ContentsS3Bucket,
			Prefix:    conf.ContentsS3Prefix,
			MaxBytes:  conf.ContentsMaxBytes,
			AWSConfig: awsCfg,
		})
		if err != nil {
			return nil, err
		}
		location := "s3://" + conf.ContentsS3Bucket
		if p := strings.Trim(conf.ContentsS3Prefix, "/"); p != "" {
			location += "/" + p
		}
		m.SetContentsSource("s3", location)
		L.Info(ctx, "serving contents from S3", "location", location)
		return mgr, nil
	}

	mgr, err := contents.NewFileManager(conf.ContentsRoot, conf.ContentsMaxBytes)
	if err != nil {
		return nil, err
	}
	m.SetContentsSource("file", mgr.Root())
	L.Info(ctx, "serving contents from local directory", "root", mgr.Root())
	return mgr, nil
}

// printPasswordHash reads one line from stdin and prints its bcrypt hash
// for use as -password-hash.
func printPasswordHash() error {
	fmt.Fprint(os.Stderr, "Enter password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
