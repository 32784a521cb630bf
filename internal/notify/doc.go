// Package notify is the real-time notification fan-out layer.
//
// # Components
//
//   - Registry: the process-wide set of live channels, iterated by snapshot
//   - Channel: one event stream to one client, with its own keep-alive ticker
//   - Dispatcher: sends a domain event to every active channel of an audience
//   - Bridge: replays stored events past a watermark onto a channel
//   - Publisher: persists a domain event, then dispatches it
//
// # Audiences
//
//   - "admin-broadcast": admin sessions on the admin stream
//   - "conversation:{vehicleId}": everyone following a vehicle's chat
//   - "user:{userId}": one customer's personal stream
//
// # Delivery
//
// Dispatch is best effort. A channel whose write fails is closed and removed;
// the client reconnects with its last event id and the bridge replays what it
// missed. Each channel remembers the IDs it delivered, so an event seen both
// live and through polling reaches the client once.
//
// # Concurrency
//
// Registry mutations happen under one mutex, and every send iterates a copy
// taken under it. Each channel serializes its own writes. Dispatches are
// serialized, so a channel receives live events in dispatch order.
//
// Lock order is channel write lock, then registry lock.
package notify
