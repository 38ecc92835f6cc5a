package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/pairlink-go/internal/wire"
	"github.com/rmacdonaldsmith/pairlink-go/pkg/pairlink"
	"go.uber.org/zap"
)

// frameStream is the subset of grpc.ServerStream and grpc.ClientStream a session uses
type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// maxPrealloc caps the buffer reserved up front for an inbound message
const maxPrealloc = 1 << 20

// session carries messages over one established link stream.
// Sends are serialized so the frames of a message are contiguous;
// receive must be driven by a single goroutine.
type session struct {
	stream         frameStream
	bufferSize     int
	maxMessageSize int64
	logger         *zap.Logger

	sendMu sync.Mutex
}

func newSession(stream frameStream, o *Options) *session {
	return &session{
		stream:         stream,
		bufferSize:     o.ReadStreamBufferSize,
		maxMessageSize: o.MaxMessageSize,
		logger:         o.Logger,
	}
}

func (s *session) sendFrame(f *wire.Frame) error {
	return s.stream.SendMsg(f)
}

func (s *session) recvFrame() (*wire.Frame, error) {
	var f wire.Frame
	if err := s.stream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// send writes one message: MessageStart, chunks of at most bufferSize bytes, MessageEnd.
// Reading fewer than length bytes from r fails with io.ErrUnexpectedEOF; the peer
// discards the truncated message.
func (s *session) send(metadata map[string]any, length int64, r io.Reader) error {
	msg := pairlink.NewStreamMessage(metadata, length, r)
	if err := msg.Validate(); err != nil {
		return err
	}
	md, err := wire.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	id := uuid.NewString()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.sendFrame(&wire.Frame{Kind: wire.KindMessageStart, MessageID: id, Metadata: md, ContentLength: length}); err != nil {
		return fmt.Errorf("send message start: %w", err)
	}

	bufLen := int64(s.bufferSize)
	if length < bufLen {
		bufLen = length
	}
	buf := make([]byte, bufLen)
	payload := msg.Reader()

	var readErr error
	for remaining := length; remaining > 0; {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(payload, buf[:n]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			readErr = fmt.Errorf("read payload: %w", err)
			break
		}
		if err := s.sendFrame(&wire.Frame{Kind: wire.KindChunk, MessageID: id, Data: buf[:n]}); err != nil {
			return fmt.Errorf("send chunk: %w", err)
		}
		remaining -= n
	}

	if err := s.sendFrame(&wire.Frame{Kind: wire.KindMessageEnd, MessageID: id}); err != nil {
		return fmt.Errorf("send message end: %w", err)
	}
	return readErr
}

// inbound is a message being reassembled
type inbound struct {
	id       string
	metadata map[string]any
	length   int64
	buf      bytes.Buffer
}

// receive reads frames until the stream fails, handing each complete message to deliver.
// It returns the error that ended the stream.
func (s *session) receive(deliver func(pairlink.Message)) error {
	var cur *inbound
	for {
		f, err := s.recvFrame()
		if err != nil {
			return err
		}

		switch f.Kind {
		case wire.KindMessageStart:
			if cur != nil {
				return fmt.Errorf("%w: message %s started before %s ended", ErrProtocol, f.MessageID, cur.id)
			}
			if f.ContentLength < 0 {
				return fmt.Errorf("%w: negative content length %d", ErrProtocol, f.ContentLength)
			}
			if f.ContentLength > s.maxMessageSize {
				return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, f.ContentLength, s.maxMessageSize)
			}
			md, err := wire.DecodeMetadata(f.Metadata)
			if err != nil {
				return err
			}
			cur = &inbound{id: f.MessageID, metadata: md, length: f.ContentLength}
			prealloc := f.ContentLength
			if prealloc > maxPrealloc {
				prealloc = maxPrealloc
			}
			cur.buf.Grow(int(prealloc))

		case wire.KindChunk:
			if cur == nil || f.MessageID != cur.id {
				return fmt.Errorf("%w: chunk for unknown message %s", ErrProtocol, f.MessageID)
			}
			if int64(cur.buf.Len()+len(f.Data)) > cur.length {
				return fmt.Errorf("%w: message %s exceeds declared length %d", ErrProtocol, cur.id, cur.length)
			}
			cur.buf.Write(f.Data)

		case wire.KindMessageEnd:
			if cur == nil || f.MessageID != cur.id {
				return fmt.Errorf("%w: end of unknown message %s", ErrProtocol, f.MessageID)
			}
			done := cur
			cur = nil
			if int64(done.buf.Len()) != done.length {
				s.logger.Warn("Discarding truncated message",
					zap.String("message_id", done.id),
					zap.Int64("content_length", done.length),
					zap.Int("received", done.buf.Len()))
				continue
			}
			deliver(pairlink.NewStreamMessage(done.metadata, done.length, bytes.NewReader(done.buf.Bytes())))

		default:
			return fmt.Errorf("%w: unexpected %s frame", ErrProtocol, f.Kind)
		}
	}
}
