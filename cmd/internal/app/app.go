// Package app wires the cupid server runtime: config, logging, metrics, the invitation
// store, HTTP routes, the payment notification endpoint and the watch gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cupid/cmd/internal/api"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/payment"
	"cupid/cmd/internal/realtime"

	"golang.org/x/sync/errgroup"
)

// App is the cupid server runtime.
type App struct {
	cfg     Config
	log     Logger
	metrics *Metrics

	store storeHandle
	svc   *invitation.Service

	hub     *realtime.Hub
	watch   *realtime.WatchGateway
	api     *api.Handler
	webhook *payment.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)

	// Interfaces stay nil (not typed-nil) when the store is unconfigured so every
	// surface reports the configuration error.
	var (
		svc         *invitation.Service
		invitations api.Invitations
		confirmer   payment.Confirmer
		owners      realtime.Owners
	)
	if st.configured() {
		svc, err = invitation.NewService(st.store,
			invitation.WithNotifier(hub),
			invitation.WithTransitionObserver(metrics.ObserveTransition),
		)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		invitations, confirmer, owners = svc, svc, svc
	}

	var apiOpts []api.HandlerOption
	if cfg.PaymentAPIKey != "" {
		var coOpts []payment.CheckoutOption
		if cfg.PaymentAPIBaseURL != "" {
			coOpts = append(coOpts, payment.WithAPIBaseURL(cfg.PaymentAPIBaseURL))
		}
		checkout, err := payment.NewStripeCheckout(cfg.PaymentAPIKey, cfg.PaymentPrices(), coOpts...)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithCheckout(checkout))
	} else {
		log.Warn("payment.checkout.disabled", "reason", "missing api key")
	}
	if cfg.PaymentWebhookSecret == "" {
		log.Error("payment.webhook.unconfigured", "reason", "missing signing secret")
	}

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   st,
		svc:     svc,
		hub:     hub,
		watch: realtime.NewWatchGateway(log, hub, owners, realtime.GatewayConfig{
			OriginRequired: cfg.WSOriginRequired,
			AllowedOrigins: cfg.WSAllowedOrigins,
			DevInsecure:    cfg.WSDevInsecure,
			HeartbeatEvery: cfg.WSHeartbeatInterval,
		}),
		api: api.NewHandler(log, api.Config{MaxBodyBytes: cfg.APIMaxBodyBytes}, invitations, apiOpts...),
		webhook: payment.NewHandler(log, payment.Config{
			WebhookSecret: cfg.PaymentWebhookSecret,
			Tolerance:     cfg.PaymentWebhookTolerance,
		}, confirmer, payment.WithOutcomeObserver(metrics.ObserveWebhook)),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithSecurityHeaders(WithRequestLogging(mux, a.log, a.metrics))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"watch_url", wsBaseURL(base)+"/v1/watch",
		"store", a.store.mode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := a.store.Close(closeCtx); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}

	if err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
