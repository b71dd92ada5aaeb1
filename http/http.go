package http

// Handler answers a request by filling in the response. The connection writes
// the response once the handler returns.
type Handler func(req *Request, res *Response)

var (
	response100Continue  = []byte("HTTP/1.1 100 Continue\r\n\r\n")
	websocketUpgradeHead = []byte("HTTP/1.1 101 Switching Protocols\r\nupgrade: websocket\r\nconnection: upgrade\r\nsec-websocket-accept: ")
)
