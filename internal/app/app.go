package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/mailgun"
	"mailrelay/internal/provenance"
	"mailrelay/internal/relay"
	"mailrelay/internal/typetalk"
)

type App struct {
	Config  config.Config
	Store   provenance.Store
	Relay   *relay.Service
	Handler *Handler
	Logger  *slog.Logger
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := provenance.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mail := mailgun.NewClient(cfg, logger)
	chat := typetalk.NewClient(cfg, logger)
	svc := relay.NewService(cfg, mail, chat, st, logger)

	return &App{
		Config:  cfg,
		Store:   st,
		Relay:   svc,
		Handler: NewHandler(cfg, svc, st, logger),
		Logger:  logger,
	}, nil
}

func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func (a *App) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	a.Handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	a.Logger.Info("mailrelayd serving", "addr", a.Config.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
