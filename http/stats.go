package http

// ConnStats is a snapshot of one connection for diagnostics.
type ConnStats struct {
	ID           uint64 `json:"id"`
	Remote       string `json:"remote"`
	State        string `json:"state"`
	BytesParsed  int64  `json:"bytes_parsed"`
	BytesWritten int64  `json:"bytes_written"`
	PendingBody  int64  `json:"pending_body"`
	Requests     int64  `json:"requests"`
}

// ServerStats aggregates the live connections of a server.
type ServerStats struct {
	Name         string      `json:"name"`
	Accepted     uint64      `json:"accepted"`
	Requests     uint64      `json:"requests"`
	Active       int         `json:"active"`
	ShuttingDown bool        `json:"shutting_down"`
	Conns        []ConnStats `json:"conns"`
}
