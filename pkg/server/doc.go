// Package server serves observe sessions to browsers and other clients over
// WebSocket.
//
// Every connection gets its own session.Session. The application Binder
// builds that client's observables in the session scope and binds them by
// key; when the client disconnects the session closes and the whole graph
// is torn down.
//
//	srv, err := server.New(server.DefaultConfig(), func(sess *session.Session) error {
//		count := observe.NewMutable(0, sess.NodeOptions()...)
//		return session.BindMutable[int](sess, "count", count)
//	})
//	if err != nil {
//		return err
//	}
//	return srv.Run()
//
// # Routes
//
//   - GET /ws: WebSocket endpoint
//   - GET /healthz: liveness with the open session count
//   - GET /metrics: Prometheus metrics
//
// # Frames
//
// Frames are JSON text messages. The server greets each client with
//
//	{"op":"hello","session":"<id>","keys":["count"]}
//
// Clients send read, write, subscribe, unsubscribe and keys requests with an
// optional id that is echoed back:
//
//	{"op":"subscribe","id":"1","key":"count"}
//	{"op":"write","id":"2","key":"count","value":3}
//	{"op":"unsubscribe","id":"3","handle":"<handle>"}
//
// Replies are result or error frames. Changes of subscribed values are
// pushed as
//
//	{"op":"change","key":"count","old":2,"new":3}
//
// # Resume
//
// With Config.Store set, the writable values of a session are saved when its
// client disconnects. Connecting to /ws?session=<old id> restores them into
// the new session.
package server
