// The observer watches one page: it fetches it through the network
// interceptor, sweeps it for consent prompts after the settle delay, and
// keeps polling authentication signals, reporting everything to the
// coordinator over HTTP. A loopback control endpoint receives the issuance
// flow's return hook and the host's rescan and visibility triggers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"consentry/internal/authsignal"
	"consentry/internal/bus"
	"consentry/internal/detect"
	"consentry/internal/domain"
	"consentry/internal/observer"
	"consentry/internal/platform/config"
	"consentry/internal/platform/httpserver"
	"consentry/internal/platform/logger"
	"consentry/internal/policy"
)

// httpSender posts envelopes to the coordinator's message endpoint.
type httpSender struct {
	client *http.Client
	url    string
	token  string
}

func (s *httpSender) Send(ctx context.Context, env bus.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned %d", resp.StatusCode)
	}
	return nil
}

// fetchSettings reads the coordinator's settings record.
func (s *httpSender) fetchSettings(ctx context.Context) (domain.Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/v1/settings", nil)
	if err != nil {
		return domain.Settings{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Settings{}, fmt.Errorf("coordinator returned %d", resp.StatusCode)
	}
	var settings domain.Settings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// logNavigator logs the issuance URL instead of opening a browser.
type logNavigator struct {
	log *slog.Logger
}

func (n *logNavigator) Open(url string) error {
	n.log.Info("issuance flow ready", "url", url)
	return nil
}

// pageHolder shares the latest page snapshot between the fetch loop, the
// interceptor callback, and the control surface.
type pageHolder struct {
	mu   sync.Mutex
	page *detect.Page
}

func (h *pageHolder) set(p *detect.Page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.page = p
}

func (h *pageHolder) get() *detect.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page
}

func main() {
	cfg := config.ObserverFromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.PageURL == "" {
		log.Error("CONSENTRY_PAGE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := &httpSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    cfg.CoordinatorURL,
		token:  cfg.Token,
	}

	obs := observer.New(observer.Config{
		Sender:    sender,
		Navigator: &logNavigator{log: log},
		IssueBase: cfg.IssueBase,
		TabID:     cfg.TabID,
		Logger:    log,
	})

	// Login-looking calls made while fetching the page feed the activation
	// path directly, without waiting for the next poll.
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Error("cookie jar setup failed", "error", err)
		os.Exit(1)
	}
	pages := &pageHolder{}
	pageClient := &http.Client{
		Timeout: 15 * time.Second,
		Jar:     jar,
		Transport: &authsignal.Interceptor{
			OnLoginRequest: func(url string) {
				if page := pages.get(); page != nil {
					obs.OnLoginRequest(ctx, page)
				}
			},
		},
	}

	fetchPage := func(ctx context.Context) (*detect.Page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PageURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := pageClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		markup, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		page, err := detect.ParsePage(cfg.PageURL, string(markup))
		if err != nil {
			return nil, err
		}
		pages.set(page)
		return page, nil
	}

	snapshot := func(ctx context.Context) (authsignal.Snapshot, error) {
		fresh, err := fetchPage(ctx)
		if err != nil {
			return authsignal.Snapshot{}, err
		}
		snap := authsignal.Snapshot{Page: fresh}
		if u := fresh.URL; u != nil {
			for _, cookie := range jar.Cookies(u) {
				snap.Cookies = append(snap.Cookies, cookie.Name)
			}
		}
		return snap, nil
	}

	scanEnabled := func(ctx context.Context) bool {
		settings, err := sender.fetchSettings(ctx)
		if err != nil {
			log.Warn("settings fetch failed, assuming auto-detection on", "error", err)
			return true
		}
		return settings.AutoDetection
	}

	page, err := fetchPage(ctx)
	if err != nil {
		log.Error("page fetch failed", "url", cfg.PageURL, "error", err)
		os.Exit(1)
	}
	if !policy.ShouldScan(cfg.PageURL) {
		log.Info("page is out of scanning scope", "url", cfg.PageURL)
		return
	}

	controlSrv := httpserver.New(cfg.ControlAddr, observer.NewControlHandler(observer.ControlConfig{
		Observer:    obs,
		Snapshot:    snapshot,
		Page:        pages.get,
		ScanEnabled: scanEnabled,
		Logger:      log,
	}))

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if !scanEnabled(ctx) {
			log.Info("auto-detection disabled, skipping initial sweep")
			return nil
		}
		obs.SweepAfterSettle(ctx, page)
		return nil
	})

	group.Go(func() error {
		err := obs.RunAuthPolling(ctx, snapshot)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		log.Info("control endpoint listening", "addr", cfg.ControlAddr)
		if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return controlSrv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("observer exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("observer stopped")
}
