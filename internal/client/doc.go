// Package client subscribes to carlot-notify event streams.
//
// A Subscriber holds one stream open and follows the reconnection policy
// when it drops:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> (ERROR | CLOSED_BY_SERVER) -> DISCONNECTED
//
// After a failure it waits Policy.Delay and reconnects, sending the id of the
// last message event it saw as Last-Event-ID so the server resumes from there.
// Reaching CONNECTED resets the attempt counter. Once Policy.MaxAttempts
// reconnects fail in a row the subscriber reports ErrReconnectExhausted and
// stays DISCONNECTED until Reconnect is called.
//
// Close cancels any pending reconnect wait and the open stream.
//
//	sub, err := client.NewSubscriber(client.Options{
//	    URL:     "http://127.0.0.1:8090/api/stream/me",
//	    Token:   token,
//	    OnEvent: func(f sse.Frame) { ... },
//	})
//	sub.Start(ctx)
//	defer sub.Close()
package client
