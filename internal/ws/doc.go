// Package ws implements the realtime WebSocket hub for driftgate-server.
//
// Clients connect to /ws/stream and join one room, selected with the ?room=
// query parameter (default "events"). The dispatch pipeline pushes
// notification_sent envelopes into the events room; the escalation engine
// pushes incident lifecycle envelopes into the incidents room.
//
// Envelope format sent to clients:
//
//	{
//	  "type":      "notification_sent",
//	  "timestamp": "2026-03-04T10:30:00Z",
//	  "data":      { /* type-specific payload */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
