package wire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/tracer"
)

// Welcome is the server's greeting line.
const Welcome = "WELCOME"

// LineReadWriter is the transport Handshake needs.
type LineReadWriter interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(line string) error
}

// Handshake performs the session establishment exchange: greeting, team
// name, free slots and map size. Bound its duration through ctx.
func Handshake(ctx context.Context, rw LineReadWriter, team string) (domain.SessionInfo, error) {
	ctx, span := tracer.StartSpan(ctx, "wire.handshake")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("team", team))

	info, err := handshake(ctx, rw, team)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.SessionInfo{}, err
	}
	span.SetAttributes(tracer.IntAttr("slots", info.Slots),
		tracer.IntAttr("width", info.Width), tracer.IntAttr("height", info.Height))
	tracer.SetOK(span)
	return info, nil
}

func handshake(ctx context.Context, rw LineReadWriter, team string) (domain.SessionInfo, error) {
	var info domain.SessionInfo

	greeting, err := readStep(ctx, rw, "Handshake.Welcome")
	if err != nil {
		return info, err
	}
	if greeting != Welcome {
		return info, domain.NewDomainError("Handshake.Welcome", domain.ErrProtocol, fmt.Sprintf("expected %q, got %q", Welcome, greeting))
	}

	if err := rw.WriteLine(team); err != nil {
		return info, domain.WrapOp("Handshake.Team", err)
	}

	slotsLine, err := readStep(ctx, rw, "Handshake.Slots")
	if err != nil {
		return info, err
	}
	slots, ok := parseInt(slotsLine)
	if !ok {
		return info, domain.NewDomainError("Handshake.Slots", domain.ErrProtocol, fmt.Sprintf("not a number: %q", slotsLine))
	}
	if slots <= 0 {
		return info, domain.NewDomainError("Handshake.Slots", domain.ErrTeamFull, fmt.Sprintf("team %q has no free slot", team))
	}
	info.Slots = slots

	sizeLine, err := readStep(ctx, rw, "Handshake.MapSize")
	if err != nil {
		return info, err
	}
	fields := strings.Fields(sizeLine)
	if len(fields) != 2 {
		return info, domain.NewDomainError("Handshake.MapSize", domain.ErrProtocol, fmt.Sprintf("expected \"<width> <height>\", got %q", sizeLine))
	}
	w, wok := parseInt(fields[0])
	h, hok := parseInt(fields[1])
	if !wok || !hok || w <= 0 || h <= 0 {
		return info, domain.NewDomainError("Handshake.MapSize", domain.ErrProtocol, fmt.Sprintf("invalid map size %q", sizeLine))
	}
	info.Width, info.Height = w, h
	return info, nil
}

// parseInt accepts an optional minus sign followed by decimal digits and
// nothing else: no plus sign and no surrounding whitespace.
func parseInt(s string) (int, bool) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func readStep(ctx context.Context, rw LineReadWriter, op string) (string, error) {
	line, err := rw.ReadLine(ctx)
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, context.DeadlineExceeded):
		return "", domain.NewSubSystemError("handshake", op, domain.ErrTimeout, "server did not answer in time")
	case errors.Is(err, domain.ErrPeerClosed):
		return "", domain.NewDomainError(op, domain.ErrPeerClosed, "connection closed during handshake")
	default:
		return "", domain.WrapOp(op, err)
	}
}
