package mockserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/form3tech-oss/pact-core/internal/app/generate"
	"github.com/form3tech-oss/pact-core/internal/app/matching"
	"github.com/form3tech-oss/pact-core/internal/app/pactmodel"
)

// categories scored when selecting an interaction for an inbound request.
const fullScore = 5

// Server impersonates the provider for one pact: it selects the best
// matching interaction per request, answers with its generated response
// and records every match and mismatch.
type Server struct {
	pact     *pactmodel.Pact
	echo     *echo.Echo
	listener net.Listener
	server   *http.Server
	cfg      matching.Config

	mu      sync.Mutex
	matches []MatchResult
	hits    map[string]int
}

// Start binds the server on host:port (an OS-chosen port when zero) and
// begins serving the pact.
func Start(pact *pactmodel.Pact, host string, port int, cfg matching.Config) (*Server, error) {
	if err := pact.Validate(); err != nil {
		return nil, errors.Wrap(err, "unable to serve pact")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to bind mock server on %s:%d", host, port)
	}

	s := &Server{
		pact: pact,
		cfg:  cfg,
		hits: map[string]int{},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Any("/*", s.handle)
	e.Any("/", s.handle)
	s.echo = e

	s.listener = listener
	s.server = &http.Server{Handler: e}
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	log.WithFields(log.Fields{
		"consumer": pact.Consumer.Name,
		"provider": pact.Provider.Name,
		"url":      s.URL(),
	}).Info("mock server started")
	return s, nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	addr := s.listener.Addr().(*net.TCPAddr)
	host := addr.IP.String()
	if addr.IP.IsUnspecified() {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, addr.Port)
}

// Pact returns the pact being served.
func (s *Server) Pact() *pactmodel.Pact {
	return s.pact
}

func (s *Server) handle(c echo.Context) error {
	actual, err := requestFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	log.WithFields(log.Fields{"method": actual.Method, "path": actual.Path}).Info("received request")

	selected, mismatches := s.selectInteraction(actual)
	if selected == nil {
		s.record(MatchResult{
			Kind:   RequestNotFound,
			Method: actual.Method,
			Path:   actual.Path,
		})
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":  fmt.Sprintf("no interaction matches %s %s", actual.Method, actual.Path),
			"method": actual.Method,
			"path":   actual.Path,
		})
	}

	if len(mismatches) > 0 {
		result := MatchResult{
			Kind:        RequestMismatched,
			Method:      actual.Method,
			Path:        actual.Path,
			Interaction: selected.Description,
			Mismatches:  mismatches,
		}
		s.record(result)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":       fmt.Sprintf("request did not match interaction %q", selected.Description),
			"interaction": selected.Description,
			"mismatches":  result.ToJSON()["mismatches"],
		})
	}

	s.recordHit(selected)

	genCtx := generate.NewContext(pactmodel.ModeConsumer)
	genCtx.MockServerURL = s.URL()
	response := generate.ApplyResponse(selected.Response, genCtx)

	for name, values := range response.Headers {
		for _, v := range values {
			c.Response().Header().Add(name, v)
		}
	}
	if response.Body.IsPresent() {
		if _, present := pactmodel.HeaderValue(response.Headers, "Content-Type"); !present {
			c.Response().Header().Set("Content-Type", response.Body.DetectContentType().String())
		}
		c.Response().WriteHeader(response.Status)
		_, err = c.Response().Write(response.Body.Value)
		return err
	}
	c.Response().WriteHeader(response.Status)
	return nil
}

func requestFromEcho(c echo.Context) (pactmodel.Request, error) {
	req := pactmodel.NewRequest()
	req.Method = strings.ToUpper(c.Request().Method)
	req.Path = c.Request().URL.Path
	req.Query = pactmodel.ParseQueryString(c.Request().URL.RawQuery)
	for name, values := range c.Request().Header {
		req.Headers[name] = append([]string(nil), values...)
	}
	if c.Request().Body != nil {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return req, errors.Wrap(err, "unable to read request body")
		}
		contentType := c.Request().Header.Get("Content-Type")
		req.Body = pactmodel.PresentBody(data, contentType)
	}
	return req, nil
}

// selectInteraction scores every interaction: one point per category of
// method, path, query, headers and body that produced no mismatch. A full
// score matches; otherwise the best scorer is returned with its
// mismatches for diagnostics. Ties keep the interaction recorded first.
func (s *Server) selectInteraction(actual pactmodel.Request) (*pactmodel.Interaction, []matching.Mismatch) {
	bestScore := -1
	var best *pactmodel.Interaction
	var bestMismatches []matching.Mismatch

	for _, interaction := range s.pact.Interactions {
		if !interaction.IsHTTP() {
			continue
		}
		mismatches := matching.MatchRequest(interaction.Request, actual, s.pact.SpecVersion, s.cfg)
		score := scoreOf(mismatches)
		if score == fullScore {
			return interaction, nil
		}
		if score > bestScore {
			bestScore = score
			best = interaction
			bestMismatches = mismatches
		} else if score == bestScore {
			log.WithFields(log.Fields{
				"kept":      best.Description,
				"discarded": interaction.Description,
			}).Debug("two interactions scored equally; keeping the one recorded first")
		}
	}
	if best == nil || bestScore <= 0 {
		return nil, nil
	}
	return best, bestMismatches
}

func scoreOf(mismatches []matching.Mismatch) int {
	failed := map[matching.MismatchKind]bool{}
	for _, m := range mismatches {
		switch m.Kind {
		case matching.MethodMismatch:
			failed[matching.MethodMismatch] = true
		case matching.PathMismatch:
			failed[matching.PathMismatch] = true
		case matching.QueryMismatch:
			failed[matching.QueryMismatch] = true
		case matching.HeaderMismatch:
			failed[matching.HeaderMismatch] = true
		case matching.BodyMismatch, matching.BodyTypeMismatch:
			failed[matching.BodyMismatch] = true
		}
	}
	return fullScore - len(failed)
}

func (s *Server) record(result MatchResult) {
	s.mu.Lock()
	s.matches = append(s.matches, result)
	s.mu.Unlock()
}

func (s *Server) recordHit(interaction *pactmodel.Interaction) {
	s.mu.Lock()
	s.hits[interaction.UniqueKey()]++
	s.matches = append(s.matches, MatchResult{
		Kind:        RequestMatched,
		Method:      interaction.Request.Method,
		Path:        interaction.Request.Path,
		Interaction: interaction.Description,
	})
	s.mu.Unlock()
}

// Matched reports whether every interaction was hit at least once and no
// request mismatched.
func (s *Server) Matched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.Kind == RequestMismatched || m.Kind == RequestNotFound {
			return false
		}
	}
	for _, interaction := range s.pact.Interactions {
		if !interaction.IsHTTP() {
			continue
		}
		if s.hits[interaction.UniqueKey()] == 0 {
			return false
		}
	}
	return true
}

// Results returns the recorded match log, with a missing-request entry
// appended for every interaction that never matched.
func (s *Server) Results() []MatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]MatchResult(nil), s.matches...)
	for _, interaction := range s.pact.Interactions {
		if !interaction.IsHTTP() {
			continue
		}
		if s.hits[interaction.UniqueKey()] == 0 {
			out = append(out, MatchResult{
				Kind:        InteractionNotMatched,
				Method:      interaction.Request.Method,
				Path:        interaction.Request.Path,
				Interaction: interaction.Description,
			})
		}
	}
	return out
}

// WritePact serialises the served pact into dir, merging with any
// existing file.
func (s *Server) WritePact(dir string) (string, error) {
	return pactmodel.WritePactFile(s.pact, dir, s.pact.SpecVersion, false)
}

// Shutdown stops accepting requests, waits for in-flight handlers and
// releases the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	log.WithField("url", s.URL()).Info("shutting down mock server")
	return s.server.Shutdown(ctx)
}
