package server

import (
	"errors"
	"io"
	"net/http"

	"golang.org/x/net/websocket"

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
	"geminimock/internal/models"
)

type liveSetup struct {
	Model             string                   `json:"model"`
	GenerationConfig  *gemini.GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *gemini.Content          `json:"systemInstruction,omitempty"`
	Tools             []gemini.Tool            `json:"tools,omitempty"`
}

type liveClientContent struct {
	Turns        []gemini.Content `json:"turns"`
	TurnComplete bool             `json:"turnComplete"`
}

type liveClientMessage struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	ClientContent *liveClientContent `json:"clientContent,omitempty"`
}

type liveServerContent struct {
	ModelTurn    *gemini.Content `json:"modelTurn,omitempty"`
	TurnComplete bool            `json:"turnComplete,omitempty"`
}

type liveServerMessage struct {
	SetupComplete *struct{}             `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent    `json:"serverContent,omitempty"`
	UsageMetadata *gemini.UsageMetadata `json:"usageMetadata,omitempty"`
}

// liveSession holds the conversation of one websocket connection. Turns
// accumulate in pending until the client marks one complete, then the
// whole history is sent through the generation path. History only grows
// once generation succeeds.
type liveSession struct {
	setup   *liveSetup
	history []gemini.Content
	pending []gemini.Content
}

func (s *Server) liveHandler() http.Handler {
	return websocket.Server{
		// Browsers and SDKs connect from arbitrary origins.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   websocket.Handler(s.serveLive),
	}
}

func (s *Server) serveLive(ws *websocket.Conn) {
	defer ws.Close()
	ws.MaxPayloadBytes = maxJSONBytes
	logger := s.logger.With().Str("remote", ws.Request().RemoteAddr).Logger()
	logger.Debug().Msg("live session opened")

	sess := &liveSession{}
	for {
		var msg liveClientMessage
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("live session read failed")
			}
			return
		}

		var err error
		switch {
		case msg.Setup != nil:
			err = s.liveSetup(ws, sess, msg.Setup)
		case msg.ClientContent != nil:
			if sess.setup == nil {
				s.sendLiveError(ws, apierr.InvalidArgument("setup must be the first message"))
				return
			}
			err = s.liveTurn(ws, sess, msg.ClientContent)
		default:
			err = apierr.InvalidArgument("unsupported live message")
		}
		if err == nil {
			continue
		}
		if ae := apierr.From(err); ae.Code < http.StatusInternalServerError {
			s.sendLiveError(ws, ae)
			continue
		}
		logger.Warn().Err(err).Msg("live session closed")
		return
	}
}

func (s *Server) liveSetup(ws *websocket.Conn, sess *liveSession, setup *liveSetup) error {
	if sess.setup != nil {
		return apierr.InvalidArgument("setup was already received")
	}
	if _, err := models.Lookup(setup.Model); err != nil {
		return err
	}
	sess.setup = setup
	return websocket.JSON.Send(ws, liveServerMessage{SetupComplete: &struct{}{}})
}

func (s *Server) liveTurn(ws *websocket.Conn, sess *liveSession, content *liveClientContent) error {
	if !content.TurnComplete {
		sess.pending = append(sess.pending, content.Turns...)
		return nil
	}

	// A rejected turn leaves the session as it was before it.
	history := make([]gemini.Content, 0, len(sess.history)+len(sess.pending)+len(content.Turns))
	history = append(history, sess.history...)
	history = append(history, sess.pending...)
	history = append(history, content.Turns...)
	sess.pending = nil

	ctx := ws.Request().Context()
	resp, err := s.asm.Generate(ctx, sess.setup.Model, &gemini.GenerateContentRequest{
		Contents:          history,
		SystemInstruction: sess.setup.SystemInstruction,
		Tools:             sess.setup.Tools,
		GenerationConfig:  sess.setup.GenerationConfig,
	})
	if err != nil {
		return err
	}

	err = s.asm.Stream(ctx, resp, func(chunk *gemini.GenerateContentResponse) error {
		turn := chunk.Candidates[0].Content
		return websocket.JSON.Send(ws, liveServerMessage{ServerContent: &liveServerContent{ModelTurn: &turn}})
	})
	if err != nil {
		return err
	}
	sess.history = append(history, resp.Candidates[0].Content)
	return websocket.JSON.Send(ws, liveServerMessage{
		ServerContent: &liveServerContent{TurnComplete: true},
		UsageMetadata: resp.UsageMetadata,
	})
}

func (s *Server) sendLiveError(ws *websocket.Conn, err error) {
	ae := apierr.From(err)
	if sendErr := websocket.JSON.Send(ws, ae.Envelope()); sendErr != nil {
		s.logger.Warn().Err(sendErr).Msg("live error not delivered")
	}
}
