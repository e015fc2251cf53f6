// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/config"
	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/session"
)

// Collector receives session parts from the nodes and merges and decodes
// them on request.
type Collector struct {
	opt *config.CollectorOpt
	hub *Hub
	// mu serializes everything that touches a session directory.
	mu sync.Mutex
}

func NewCollector(opt *config.CollectorOpt) *Collector {
	return &Collector{opt: opt, hub: NewHub()}
}

// Hub is where node replies and session updates are published.
func (c *Collector) Hub() *Hub { return c.hub }

// Router builds the HTTP API.
func (c *Collector) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.POST(UploadPath, c.upload)
	r.GET("/sessions", c.list)
	r.GET("/sessions/:name", c.status)
	r.DELETE("/sessions/:name", c.remove)
	r.POST("/sessions/:name/merge", c.merge)
	r.POST("/sessions/:name/decode", c.decode)
	r.POST("/sessions/:name/process", c.process)
	r.GET("/ws/events", gin.WrapH(c.hub))
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		log.Debugf("collector: %s %s %d %v", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

// httpStatus maps session errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoFragments), errors.Is(err, session.ErrIncompleteFragments):
		return http.StatusConflict
	case errors.Is(err, session.ErrMalformedManifest), errors.Is(err, session.ErrDuplicateSensor),
		errors.Is(err, session.ErrMalformedRaw), errors.Is(err, imu.ErrLaneMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func fail(ctx *gin.Context, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		log.Errorf("collector: %s %s: %v", ctx.Request.Method, ctx.Request.URL.Path, err)
	}
	ctx.JSON(code, gin.H{"err": err.Error()})
}

func (c *Collector) sessionDir(name string) (string, error) {
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.opt.SessionsPath, name), nil
}

func (c *Collector) upload(ctx *gin.Context) {
	if ctx.GetHeader(PartHeader) != PartType {
		ctx.JSON(http.StatusBadRequest, gin.H{"err": "missing " + PartHeader + ": " + PartType + " header"})
		return
	}
	dir, err := c.sessionDir(ctx.PostForm(SessionField))
	if err != nil {
		fail(ctx, err)
		return
	}
	fh, err := ctx.FormFile(FileField)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(ctx, err)
		return
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := session.Unpack(f, fh.Size, dir); err != nil {
		fail(ctx, err)
		return
	}
	st, err := session.Inspect(dir)
	if err != nil {
		fail(ctx, err)
		return
	}
	log.Infof("collector: received %s for session %s (controllers %v)", fh.Filename, st.Name, st.Controllers)

	msg := "Session part received"
	if c.opt.AutoMerge && c.complete(st) {
		merged, _, err := c.mergeAndDecode(dir, false)
		if err != nil {
			log.Errorf("collector: auto merge %s: %v", filepath.Base(dir), err)
			msg += ", auto merge failed: " + err.Error()
		} else {
			st = merged
			msg += ", session merged and decoded"
		}
	}
	c.hub.Publish(Event{Kind: EventSession, Session: st})
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "msg": msg, "session": st})
}

// complete reports whether every configured device has delivered.
func (c *Collector) complete(st *session.Status) bool {
	if len(c.opt.Devices) == 0 || st.Stage != session.StageCaptured {
		return false
	}
	have := make(map[string]bool, len(st.Controllers))
	for _, id := range st.Controllers {
		have[id] = true
	}
	for _, id := range c.opt.Devices {
		if !have[id] {
			return false
		}
	}
	return true
}

func (c *Collector) list(ctx *gin.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.opt.SessionsPath)
	if errors.Is(err, os.ErrNotExist) {
		ctx.JSON(http.StatusOK, gin.H{"err": nil, "sessions": []*session.Status{}})
		return
	}
	if err != nil {
		fail(ctx, err)
		return
	}
	out := make([]*session.Status, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := session.Inspect(filepath.Join(c.opt.SessionsPath, e.Name()))
		if err != nil {
			log.Warnf("collector: skip %s: %v", e.Name(), err)
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "sessions": out})
}

func (c *Collector) status(ctx *gin.Context) {
	dir, err := c.sessionDir(ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := session.Inspect(dir)
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "session": st})
}

func (c *Collector) remove(ctx *gin.Context) {
	dir, err := c.sessionDir(ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := os.Stat(dir); err != nil {
		fail(ctx, err)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		fail(ctx, err)
		return
	}
	log.Infof("collector: session %s deleted", filepath.Base(dir))
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "msg": "Session deleted"})
}

func (c *Collector) merge(ctx *gin.Context) {
	dir, err := c.sessionDir(ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	keep, _ := strconv.ParseBool(ctx.Query("keep"))

	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := session.MergeDir(dir, session.MergeOptions{Expected: c.opt.Devices, Keep: keep})
	if err != nil {
		fail(ctx, err)
		return
	}
	c.publishStatus(dir)
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "msg": "Session merged", "manifest": m})
}

func (c *Collector) decode(ctx *gin.Context) {
	dir, err := c.sessionDir(ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	results, err := session.DecodeDir(dir)
	if err != nil {
		fail(ctx, err)
		return
	}
	c.publishStatus(dir)
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "msg": "Session decoded", "results": decodeReport(results)})
}

func (c *Collector) process(ctx *gin.Context) {
	dir, err := c.sessionDir(ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, results, err := c.mergeAndDecode(dir, false)
	if err != nil {
		fail(ctx, err)
		return
	}
	c.hub.Publish(Event{Kind: EventSession, Session: st})
	ctx.JSON(http.StatusOK, gin.H{"err": nil, "msg": "Session merged and decoded", "session": st, "results": decodeReport(results)})
}

// mergeAndDecode must be called with c.mu held.
func (c *Collector) mergeAndDecode(dir string, keep bool) (*session.Status, []session.DecodeResult, error) {
	if _, err := session.MergeDir(dir, session.MergeOptions{Expected: c.opt.Devices, Keep: keep}); err != nil {
		return nil, nil, err
	}
	results, err := session.DecodeDir(dir)
	if err != nil {
		return nil, nil, err
	}
	st, err := session.Inspect(dir)
	return st, results, err
}

func (c *Collector) publishStatus(dir string) {
	if st, err := session.Inspect(dir); err == nil {
		c.hub.Publish(Event{Kind: EventSession, Session: st})
	}
}

func decodeReport(results []session.DecodeResult) []gin.H {
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		h := gin.H{"sensor_id": r.SensorID, "output": r.Output, "rows": r.Rows, "err": nil}
		if r.Err != nil {
			h["err"] = r.Err.Error()
		}
		out = append(out, h)
	}
	return out
}

// relay forwards node replies from the info topic to the event hub.
func (c *Collector) relay(ctx context.Context) error {
	clientID := c.opt.MQTT.ClientID
	if clientID == "" {
		clientID = config.AppName + "-collector"
	}
	client, err := connectMQTT(ctx, c.opt.MQTT, clientID, func(mc mqtt.Client) {
		err := subscribe(mc, c.opt.MQTT.Topic.Info, func(_ mqtt.Client, msg mqtt.Message) {
			r, err := command.ParseReply(msg.Payload())
			if err != nil {
				log.Warnf("collector: %v", err)
				return
			}
			log.Infof("collector: %s", r)
			c.hub.Publish(Event{Kind: EventReply, Reply: &r})
		})
		if err != nil {
			log.Error(err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

// RunCollector serves the HTTP API and relays node replies until ctx is
// done or either fails.
func RunCollector(ctx context.Context, opt *config.CollectorOpt) error {
	if err := os.MkdirAll(opt.SessionsPath, 0o755); err != nil {
		return err
	}
	if !opt.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	c := NewCollector(opt)
	srv := &http.Server{Addr: opt.Listen.Addr(), Handler: c.Router()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("collector: listening on %s, sessions in %s", srv.Addr, opt.SessionsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return c.relay(ctx) })
	return g.Wait()
}
