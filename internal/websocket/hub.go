// Package websocket - трансляция событий движка подключенным клиентам:
// новые возможности, ход исполнения, статусы бирж и переводов.
package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул буферов сериализации: broadcast идёт на каждую возможность,
// без пула аллокации растут линейно с частотой событий
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет активными WebSocket соединениями и рассылает
// им сообщения. Медленные клиенты отключаются, переполнение
// канала рассылки считается, но не блокирует отправителей.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	dropped    atomic.Int64

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run запускает главный цикл Hub. Должен работать в отдельной горутине.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.Info("websocket client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.Info("websocket client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock: отправка не должна
			// блокировать регистрацию клиентов
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				utils.Warn("removed slow websocket clients",
					zap.Int("removed", len(toRemove)), zap.Int("total", total))
			}
		}
	}
}

// Stop останавливает цикл Hub и закрывает все соединения
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast сериализует сообщение и рассылает его всем клиентам.
// Не блокируется: при переполнении канала сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		utils.Error("failed to marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msg)
}

// BroadcastRaw рассылает уже сериализованное сообщение
func (h *Hub) BroadcastRaw(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// NotifyOpportunity рассылает новую арбитражную возможность.
// Hub подключается этим методом к сканеру как получатель уведомлений.
func (h *Hub) NotifyOpportunity(d *models.OpportunityDetail) {
	h.Broadcast(NewOpportunityMessage(d))
}

// BroadcastExecution рассылает смену статуса возможности
func (h *Hub) BroadcastExecution(opportunityID int64, status string) {
	h.Broadcast(NewExecutionMessage(opportunityID, status))
}

// BroadcastVenueStatus рассылает статус биржевого подключения
func (h *Hub) BroadcastVenueStatus(st *models.VenueStatus) {
	h.Broadcast(NewVenueStatusMessage(st))
}

// BroadcastTransfer рассылает смену статуса перевода
func (h *Hub) BroadcastTransfer(t *models.Transfer) {
	h.Broadcast(NewTransferMessage(t))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
