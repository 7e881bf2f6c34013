package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/corescout/scoutd/pkg/client"
)

// command bundles the client-side handlers. Output goes through out so tests
// can capture it.
type command struct {
	out io.Writer
}

func (c command) apiClient(f APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	if f.URL != "" {
		cfg.BaseURL = f.URL
	}
	if f.Timeout > 0 {
		cfg.Timeout = f.Timeout
	}
	return client.New(cfg)
}

// reach fails fast with a hint when the daemon is not answering.
func (c command) reach(ctx context.Context, cl *client.Client, f APIFlags) error {
	if cl.IsReachable(ctx) {
		return nil
	}
	url := f.URL
	if url == "" {
		url = client.DefaultConfig().BaseURL
	}
	return fmt.Errorf("daemon not reachable at %s - start it first with 'scoutd serve'", url)
}

func (c command) Status(f APIFlags) error {
	ctx := context.Background()
	cl := c.apiClient(f)
	if err := c.reach(ctx, cl, f); err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Start(f StartFlags) error {
	ctx := context.Background()
	cl := c.apiClient(f.API)
	if err := c.reach(ctx, cl, f.API); err != nil {
		return err
	}
	res, err := cl.Start(ctx, f.AllowNoDataSource)
	if err != nil {
		return err
	}
	c.printJSON(res)
	if res.Status == client.StatusNoDataSource {
		return fmt.Errorf("no data source selected - choose one with 'scoutd select <path>'")
	}
	return nil
}

func (c command) Stop(f StopFlags) error {
	ctx := context.Background()
	cl := c.apiClient(f.API)
	if err := c.reach(ctx, cl, f.API); err != nil {
		return err
	}
	if err := cl.Stop(ctx, f.Wait); err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	c.printJSON(st)
	return nil
}

func (c command) Select(f APIFlags, path string) error {
	ctx := context.Background()
	cl := c.apiClient(f)
	if err := c.reach(ctx, cl, f); err != nil {
		return err
	}
	res, err := cl.SetDataSource(ctx, path)
	if err != nil {
		return err
	}
	c.printJSON(res)
	return nil
}

func (c command) Events(f APIFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cl := c.apiClient(f)
	if err := c.reach(ctx, cl, f); err != nil {
		return err
	}
	events, err := cl.Events(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintln(c.out, string(b))
	}
	return nil
}

func (c command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}
