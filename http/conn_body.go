package http

import "errors"

// bodyReader is the body part of the per-connection parser state: framing,
// the chunked decoder and the consumer of decoded bytes.
type bodyReader struct {
	chunked   bool
	decoder   ChunkedDecoder
	remaining int64 // bytes of a fixed-length body still expected
	received  int64
	limit     int64

	multipart   *MultipartParser
	part        *Resource
	partHeaders Headers
	field       string // part header name waiting for its value
	spool       *Resource
	failure     error // why a multipart callback aborted
}

// frame sets up decoding from the request's framing fields.
func (b *bodyReader) frame(c *Conn, limit int64) {
	req := c.req
	b.limit = limit
	b.chunked = req.Chunked
	if b.chunked {
		b.decoder.ConsumeTrailers = c.cfg.ConsumeTrailers
		b.decoder.Trailers = req.Trailers
		c.pendingBody.Store(-1)
		return
	}
	b.remaining = req.ContentLength
	c.pendingBody.Store(b.remaining)
}

// plan picks the consumer. Routes with a Stream callback and multipart bodies
// are consumed as they arrive, bodies above the cache ceiling or on spooling
// routes are stored on disk, everything else is buffered in Request.Body.
func (b *bodyReader) plan(c *Conn) error {
	req := c.req
	if c.route != nil && c.route.Stream != nil {
		c.setState(StateConsume)
		return nil
	}

	if boundary, ok := BoundaryFromContentType(req.Headers.Get("content-type")); ok {
		mp, err := NewMultipartParser(boundary, b.callbacks(c))
		if err != nil {
			return err
		}
		mp.MaxHeaderSize = c.cfg.MaxPartHeaderSize
		b.multipart = mp
		b.partHeaders = Headers{}
		c.setState(StateConsume)
		return nil
	}

	if (c.route != nil && c.route.Spool) || req.ContentLength > c.cfg.MaxBodyCacheSize {
		return b.startSpool(c)
	}
	c.setState(StateConsume)
	return nil
}

// startSpool moves the body to a temporary file, including what was buffered
// so far.
func (b *bodyReader) startSpool(c *Conn) error {
	req := c.req
	res := newResource(c.srv.FileSystem, c.cfg.TempDir, 0)
	res.ContentType = req.Headers.Get("content-type")
	req.Resources = append(req.Resources, res)
	req.Spooled = true
	b.spool = res

	if err := res.spill(); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		if _, err := res.Write(req.Body); err != nil {
			return err
		}
		req.Body = req.Body[:0]
	}
	c.setState(StateStore)
	return nil
}

func (b *bodyReader) callbacks(c *Conn) MultipartCallbacks {
	req := c.req
	return MultipartCallbacks{
		OnHeaderField: func(name []byte) bool {
			b.field = string(name)
			return true
		},
		OnHeaderValue: func(value []byte) bool {
			b.partHeaders.Add(b.field, string(value))
			return true
		},
		OnPartBegin: func() bool {
			if len(req.Resources) >= c.cfg.MaxResources {
				b.failure = tooLarge("more than %d parts", c.cfg.MaxResources)
				return false
			}
			res := newResource(c.srv.FileSystem, c.cfg.TempDir, c.cfg.MaxBodyCacheSize)
			res.Headers = b.partHeaders
			b.partHeaders = Headers{}

			disposition := res.Headers.Get("content-disposition")
			res.Field, _ = DispositionParam(disposition, "name")
			res.Filename, _ = DispositionParam(disposition, "filename")
			res.ContentType = res.Headers.Get("content-type")

			req.Resources = append(req.Resources, res)
			b.part = res
			return true
		},
		OnPartData: func(p []byte) bool {
			if _, err := b.part.Write(p); err != nil {
				b.failure = err
				return false
			}
			return true
		},
		OnPartEnd: func() bool {
			if b.part == nil {
				return true
			}
			err := b.part.Finish()
			b.part = nil
			if err != nil {
				b.failure = err
				return false
			}
			return true
		},
	}
}

// readBody decodes buffered body bytes and hands them to the consumer.
func (c *Conn) readBody() bool {
	b := &c.body
	avail := c.buf[c.off:]

	var data []byte
	done := false
	if b.chunked {
		n, consumed, err := b.decoder.Decode(avail)
		c.off += consumed
		data = avail[:n]
		switch {
		case err == nil:
			done = true
		case err == ErrNeedMore:
			if consumed == 0 {
				return false
			}
		default:
			c.bodyFailed(err)
			return true
		}
	} else {
		if len(avail) == 0 && b.remaining > 0 {
			return false
		}
		k := min(int64(len(avail)), b.remaining)
		data = avail[:k]
		c.off += int(k)
		b.remaining -= k
		done = b.remaining == 0
		c.pendingBody.Store(b.remaining)
	}

	b.received += int64(len(data))
	if b.received > b.limit && c.State() != StateSkip {
		c.logger.Info("body exceeds limit", "limit", b.limit, "path", c.req.Path)
		c.srv.metrics.parseError(ErrTooLarge)
		c.res.Reset()
		c.res.WithError(StatusRequestEntityTooLarge, "")
		c.setState(StateSkip)
	}

	if err := c.deliver(data); err != nil {
		c.bodyFailed(err)
		return true
	}
	if done {
		c.bodyDone()
	}
	return true
}

func (c *Conn) deliver(data []byte) error {
	b := &c.body
	if len(data) == 0 {
		return nil
	}

	switch c.State() {
	case StateStore:
		_, err := b.spool.Write(data)
		return err

	case StateConsume:
		if c.route != nil && c.route.Stream != nil {
			return c.route.Stream(c.req, data)
		}
		if b.multipart != nil {
			err := b.multipart.Feed(data)
			if errors.Is(err, ErrAborted) && b.failure != nil {
				return b.failure
			}
			return err
		}
		if int64(len(c.req.Body)+len(data)) > c.cfg.MaxBodyCacheSize {
			if err := b.startSpool(c); err != nil {
				return err
			}
			_, err := b.spool.Write(data)
			return err
		}
		c.req.Body = append(c.req.Body, data...)
	}
	return nil
}

func (c *Conn) bodyDone() {
	b := &c.body
	c.pendingBody.Store(0)

	if c.State() == StateSkip {
		c.setState(StateFinish)
		return
	}
	if b.multipart != nil && !b.multipart.Done() {
		c.bodyFailed(malformed("multipart body ended before the closing boundary"))
		return
	}
	if b.spool != nil {
		if err := b.spool.Finish(); err != nil {
			c.bodyFailed(err)
			return
		}
	}
	c.dispatchHandler()
}

// bodyFailed answers a request whose body could not be read. The rest of the
// stream cannot be trusted, so the connection closes after the response.
func (c *Conn) bodyFailed(err error) {
	status := StatusInternalServerError
	switch {
	case errors.Is(err, ErrTooLarge):
		status = StatusRequestEntityTooLarge
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrAborted):
		status = StatusBadRequest
	}
	if status == StatusInternalServerError {
		c.logger.Error("reading body", "err", err, "path", c.req.Path)
	} else {
		c.srv.metrics.parseError(err)
		c.logger.Info("rejecting body", "err", err, "path", c.req.Path)
	}

	c.res.Reset()
	c.res.WithError(status, err.Error())
	c.closeAfter = true
	c.pendingBody.Store(0)
	c.setState(StateFinish)
}

func (b *bodyReader) reset() {
	b.decoder.Reset()
	b.chunked = false
	b.remaining = 0
	b.received = 0
	b.limit = 0
	b.multipart = nil
	b.part = nil
	b.partHeaders = nil
	b.field = ""
	b.spool = nil
	b.failure = nil
}
