package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Listeners only send control frames.
	maxMessageSize = 4096

	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

var (
	currentWSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memtriage_current_ws_connections",
		Help: "Number of principals currently listening for events.",
	})

	upgrader = websocket.Upgrader{}
)

func is_ws_connection(r *http.Request) bool {
	_, pres := r.Header["Upgrade"]
	return pres
}

// Stream the principal's events as JSON text frames until either
// side goes away.
func streamEvents(config_obj *config_proto.Config) http.Handler {
	logger := logging.GetLogger(config_obj, &logging.FrontendComponent)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notifier, err := services.GetNotifier()
		if err != nil {
			writeError(w, err)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("Websocket upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		currentWSConnections.Inc()
		defer currentWSConnections.Dec()

		principal := getPrincipal(r)
		events, closer := notifier.Listen(principal)
		defer closer()

		// The reader only notices when the peer goes away.
		done := make(chan bool)
		go func() {
			defer close(done)

			ws.SetReadLimit(maxMessageSize)
			_ = ws.SetReadDeadline(utils.GetTime().Now().Add(pongWait))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(utils.GetTime().Now().Add(pongWait))
			})

			for {
				_, _, err := ws.ReadMessage()
				if err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case <-done:
				return

			case <-ticker.C:
				err := ws.WriteControl(websocket.PingMessage, nil,
					utils.GetTime().Now().Add(writeWait))
				if err != nil {
					return
				}

			case event, ok := <-events:
				// A newer listener for the principal replaced us.
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(
							websocket.CloseNormalClosure, "replaced"),
						utils.GetTime().Now().Add(writeWait))
					return
				}

				serialized, err := json.Marshal(event)
				if err != nil {
					logger.Error("streamEvents: %v", err)
					continue
				}

				_ = ws.SetWriteDeadline(utils.GetTime().Now().Add(writeWait))
				err = ws.WriteMessage(websocket.TextMessage, serialized)
				if err != nil {
					logger.Debug("streamEvents: %v went away: %v", principal, err)
					return
				}
			}
		}
	})
}
