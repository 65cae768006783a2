package chat

// Session captures one conversation thread. Sessions are created on first
// use and never mutated or deleted by the server.
type Session struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}
