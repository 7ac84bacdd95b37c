package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/clusterctl/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// ServeWebSocket upgrades r to a WebSocket connection and streams every
// coalesced payload the subscriber receives as a JSON frame until the
// connection closes.
func (b *Broker) ServeWebSocket(w http.ResponseWriter, r *http.Request, topic string, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("bus").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := b.Subscribe(topic, identity)
	defer b.Unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case _, ok := <-sub.Notify():
			if !ok {
				return
			}
			payload, ok := sub.Take()
			if !ok {
				continue
			}
			if err := b.writeJSON(conn, payload); err != nil {
				log.WithComponent("bus").Debug().Err(err).Str("topic", topic).Msg("websocket write failed, closing")
				return
			}
		}
	}
}

func (b *Broker) writeJSON(conn *websocket.Conn, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
