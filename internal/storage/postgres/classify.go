package postgres

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// WriteOutcome classifies the result of one store write.
type WriteOutcome int

// Write outcomes.
const (
	WriteOK WriteOutcome = iota
	WriteDuplicateKey
	WriteConnectionLost
	WriteOther
)

func (o WriteOutcome) String() string {
	switch o {
	case WriteOK:
		return "ok"
	case WriteDuplicateKey:
		return "duplicate_key"
	case WriteConnectionLost:
		return "connection_lost"
	default:
		return "other"
	}
}

const codeUniqueViolation = "23505"

var connectionLostCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

var connectionLostMessages = []string{
	"conn closed",
	"closed pool",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"server closed the connection",
}

// Classify maps a driver error onto a WriteOutcome.
func Classify(err error) WriteOutcome {
	if err == nil {
		return WriteOK
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return WriteDuplicateKey
		case strings.HasPrefix(pgErr.Code, "08"), connectionLostCodes[pgErr.Code]:
			return WriteConnectionLost
		default:
			return WriteOther
		}
	}

	var connectErr *pgconn.ConnectError
	var opErr *net.OpError
	switch {
	case errors.Is(err, ErrNoConnection),
		errors.As(err, &connectErr),
		errors.As(err, &opErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return WriteConnectionLost
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range connectionLostMessages {
		if strings.Contains(msg, needle) {
			return WriteConnectionLost
		}
	}
	return WriteOther
}
