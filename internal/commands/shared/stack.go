// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/httpjob/internal/config"
	"github.com/tombee/httpjob/internal/credentials"
	"github.com/tombee/httpjob/internal/log"
	"github.com/tombee/httpjob/internal/metrics"
	"github.com/tombee/httpjob/internal/policy"
	"github.com/tombee/httpjob/internal/tracing"
	"github.com/tombee/httpjob/internal/useragent"
	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/throttle"
	"github.com/tombee/httpjob/pkg/transaction"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

// LoadConfig loads the config file named by --config, or the default
// location when it exists, and applies --verbose and --quiet.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if path == "" {
		if p, err := config.ConfigPath(); err == nil && fileExists(p) {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	switch {
	case GetVerbose():
		cfg.Log.Level = "debug"
	case GetQuiet():
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

// Security is the HSTS and Expect-CT state plus its backing store.
type Security struct {
	State *transportsecurity.State
	store *transportsecurity.SQLiteStore
}

// Close closes the backing store, if any.
func (s *Security) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// OpenSecurity loads transport security state, persisted to SQLite unless
// the config keeps it in memory.
func OpenSecurity(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Security, error) {
	path, err := cfg.HSTSDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HSTS database: %w", err)
	}

	opts := []transportsecurity.Option{
		transportsecurity.WithPreload(cfg.Security.Preload...),
		transportsecurity.WithLogger(logger),
		transportsecurity.WithReporter(func(r transportsecurity.Report) {
			logger.Warn("expect-ct policy violation",
				slog.String("host", r.HostPort),
				slog.String("report_uri", r.ReportURI.String()),
			)
		}),
	}

	sec := &Security{}
	if path != "" {
		store, err := transportsecurity.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		sec.store = store
		opts = append(opts, transportsecurity.WithStore(metrics.NewStore(store)))
	}

	state, err := transportsecurity.New(ctx, opts...)
	if err != nil {
		sec.Close()
		return nil, fmt.Errorf("failed to load transport security state: %w", err)
	}
	sec.State = state
	return sec, nil
}

// StackOptions adjusts a Stack beyond what the config file says.
type StackOptions struct {
	// User is "user:password" answering every auth challenge.
	User string

	// Transport overrides applied after the config is converted.
	Transport func(*transaction.Config)
}

// Stack holds the collaborators a fetch needs, built from configuration.
type Stack struct {
	Config   *config.Config
	Logger   *slog.Logger
	Tracing  *tracing.Provider
	Security *Security
	Keyring  *credentials.Keyring
	Jobs     httpjob.Context

	factory *transaction.Factory
}

// NewStack wires logging, tracing, policy, security state, credentials,
// throttling, cookies and the transaction factory together.
func NewStack(ctx context.Context, cfg *config.Config, opts StackOptions) (*Stack, error) {
	logger := log.New(&cfg.Log)
	s := &Stack{Config: cfg, Logger: logger}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, NewConfigError("failed to set up tracing", err)
	}
	s.Tracing = provider

	engine, err := policy.New(&cfg.Policy, policy.WithLogger(logger))
	if err != nil {
		s.Close(ctx)
		return nil, NewConfigError("invalid policy", err)
	}

	ua, err := userAgent(cfg.UserAgent)
	if err != nil {
		s.Close(ctx)
		return nil, NewConfigError("invalid user agent settings", err)
	}

	sec, err := OpenSecurity(ctx, cfg, logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.Security = sec

	var ambient credentials.Chain
	if opts.User != "" {
		ambient = append(ambient, credentials.ParseStatic(opts.User))
	}
	if cfg.Credentials.Keyring {
		s.Keyring = credentials.NewKeyring(cfg.Credentials.Service, logger)
		ambient = append(ambient, s.Keyring)
	}

	tc, err := cfg.TransactionConfig()
	if err != nil {
		s.Close(ctx)
		return nil, NewConfigError("invalid transport settings", err)
	}
	if opts.Transport != nil {
		opts.Transport(&tc)
	}
	factory, err := transaction.NewFactory(tc,
		transaction.WithLogger(logger),
		transaction.WithAmbientCredentials(ambient),
		transaction.WithTraceContext(provider.Observer().ContextFor),
	)
	if err != nil {
		s.Close(ctx)
		return nil, NewUsageError("invalid transport settings", err)
	}
	s.factory = factory

	s.Jobs = httpjob.Context{
		Transactions:    factory,
		NetworkDelegate: engine,
		Security:        sec.State,
		RedirectPolicy:  engine,
		UserAgent:       ua,
		Observer: httpjob.MultiObserver{
			log.NewJobObserver(logger),
			provider.Observer(),
		},
		Logger:       logger,
		EnableBrotli: true,
	}
	if cfg.Fetch.Cookies {
		s.Jobs.Cookies = cookies.NewJar(engine)
	}
	if cfg.Throttle.Enabled {
		m, err := throttle.NewManager(cfg.Throttle.Config)
		if err != nil {
			s.Close(ctx)
			return nil, NewConfigError("invalid throttle settings", err)
		}
		s.Jobs.Throttler = metrics.NewThrottler(m)
	}
	return s, nil
}

func userAgent(cfg config.UserAgentConfig) (*useragent.Settings, error) {
	if cfg.Override == "" {
		return useragent.New(cfg.Product, cfg.Version, cfg.Languages)
	}
	al, err := useragent.AcceptLanguage(cfg.Languages)
	if err != nil {
		return nil, err
	}
	return useragent.Static(cfg.Override, al), nil
}

// Gatherer returns every metric the process exposes: the per-job metrics
// of the tracing provider and the process-wide counters.
func (s *Stack) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{s.Tracing.Registry(), prometheus.DefaultGatherer}
}

// Close flushes telemetry and releases connections and the HSTS store.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if s.factory != nil {
		s.factory.CloseIdleConnections()
	}
	if s.Tracing != nil {
		if err := s.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	if s.Security != nil {
		if err := s.Security.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing HSTS store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
