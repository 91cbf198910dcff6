package livefeed

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	// Data may be sparse, liveness comes from ping/pong
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// Manage websocket connection and call handle for each message.
// Reconnects with exponential backoff until ctx is done or retries run out.
func StartListener(ctx context.Context, host string, handle func(msg *Message), log *logrus.Logger) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	retryCount := 0

	for {
		if ctx.Err() != nil {
			log.Info("Shutdown requested, stopping listener")
			return
		}

		// Calculate retry delay with exponential backoff
		retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}

		if retryCount > 0 {
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				log.Info("Shutdown requested during retry wait")
				return
			}
		}

		log.Infof("Connecting to %s", u.String())

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Warnf("Connection failed: %v", err)
			retryCount++
			if retryCount >= maxRetries {
				log.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
				return
			}
			continue
		}

		log.Info("Connected! Accepting sensor data.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, handle, log)
		c.Close()

		if !connectionBroken {
			return
		}
		log.Warn("Connection lost, will retry...")
	}
}

// handleConnection returns true when the connection broke and false on a requested shutdown.
func handleConnection(ctx context.Context, c *websocket.Conn, handle func(msg *Message), log *logrus.Logger) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("WebSocket error: %v", err)
				} else {
					log.Infof("Connection closed: %v", err)
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if msg := MessageFromJsonBytes(message); msg != nil {
				handle(msg)
			} else {
				log.Warnf("Failed to parse live feed message: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warnf("Failed to send ping: %v", err)
				return true
			}
		case <-ctx.Done():
			log.Info("Shutdown requested, closing connection...")
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
				log.Debugf("Error sending close message: %v", err)
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
