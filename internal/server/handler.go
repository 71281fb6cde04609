package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Request is one request line and the endpoints it arrived on.
type Request struct {
	Text   string
	Local  net.Addr
	Remote net.Addr
}

// handle reads one request line, writes one response line and closes conn.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	s.trackPeak(n)

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.WithError(err).Error("error closing client socket")
			return
		}
		s.served.Add(1)
		log.Info("closed connection with client")
	}()

	var readDeadline time.Time
	if s.cfg.ReadTimeout > 0 {
		readDeadline = time.Now().Add(s.cfg.ReadTimeout)
		conn.SetReadDeadline(readDeadline)
	}
	// A client that never sends must not outlive the shutdown grace period.
	if grace := s.cfg.ShutdownGrace; grace > 0 {
		stop := context.AfterFunc(ctx, func() {
			dl := time.Now().Add(grace)
			if readDeadline.IsZero() || dl.Before(readDeadline) {
				conn.SetReadDeadline(dl)
			}
		})
		defer stop()
	}

	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Warn("connection closed without a request, ignoring")
			return
		}
		log.WithError(err).Error("error reading request")
		return
	}
	if strings.TrimSpace(line) == "" {
		log.Warn("received empty request, ignoring")
		return
	}
	log.WithField("request", line).Info("received request")

	resp := s.cfg.Responder.Respond(ctx, Request{
		Text:   line,
		Local:  conn.LocalAddr(),
		Remote: conn.RemoteAddr(),
	})

	if err := writeLine(conn, resp); err != nil {
		log.WithError(err).Error("error writing response")
		return
	}
	log.WithFields(logrus.Fields{"request": line, "response": resp}).Debug("response sent")
}

func (s *Server) trackPeak(n int64) {
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// readLine reads up to and including '\n' and strips "\n" or "\r\n".
// Text cut short by end of stream is returned as the line; an end of
// stream with no text is io.EOF.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSuffix(line, "\r"), nil
		}
		return "", err
	}

	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func writeLine(w io.Writer, line string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(line); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}
