// This file holds the command table and handlers. Every handler returns a
// fully encoded reply; errors never escape a dispatch, they become tagged
// error replies.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sanonone/hnswdb/internal/protocol"
	"github.com/sanonone/hnswdb/pkg/core/distance"
	"github.com/sanonone/hnswdb/pkg/core/hnsw"
	"github.com/sanonone/hnswdb/pkg/metrics"
)

type commandHandler func(args []string) (string, error)

func (s *Server) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		"PING":          s.cmdPing,
		"SAVE":          s.cmdSave,
		"HNSW.NEW":      s.cmdIndexNew,
		"HNSW.GET":      s.cmdIndexGet,
		"HNSW.DEL":      s.cmdIndexDel,
		"HNSW.LIST":     s.cmdIndexList,
		"HNSW.NODE.ADD": s.cmdNodeAdd,
		"HNSW.NODE.GET": s.cmdNodeGet,
		"HNSW.NODE.DEL": s.cmdNodeDel,
		"HNSW.SEARCH":   s.cmdSearch,
	}
}

// Dispatch parses one raw command line, runs its handler, and returns the
// encoded reply. A panic inside a handler is recovered into an INTERNAL
// error reply, the connection survives.
func (s *Server) Dispatch(line string) (reply string) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return errorReply(err)
	}

	handler, ok := s.commands[cmd.Name]
	if !ok {
		metrics.CommandsTotal.WithLabelValues(cmd.Name, "BADARG").Inc()
		return protocol.ErrorReply("BADARG", fmt.Sprintf("unknown command '%s'", cmd.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command panicked", "command", cmd.Name, "panic", r)
			metrics.CommandsTotal.WithLabelValues(cmd.Name, "INTERNAL").Inc()
			reply = protocol.ErrorReply("INTERNAL", fmt.Sprintf("%v", r))
		}
	}()

	start := time.Now()
	out, err := handler(cmd.Args)
	metrics.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd.Name, errorKind(err)).Inc()
		return errorReply(err)
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Name, "ok").Inc()
	return out
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, hnsw.ErrNotFound):
		return "NOTFOUND"
	case errors.Is(err, hnsw.ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, hnsw.ErrDimensionMismatch):
		return "DIMMISMATCH"
	case errors.Is(err, hnsw.ErrBadArgument), errors.Is(err, protocol.ErrBadArgument):
		return "BADARG"
	default:
		return "ERR"
	}
}

func errorReply(err error) string {
	return protocol.ErrorReply(errorKind(err), err.Error())
}

func (s *Server) cmdPing(args []string) (string, error) {
	return protocol.SimpleString("PONG"), nil
}

func (s *Server) cmdSave(args []string) (string, error) {
	if err := s.engine.Save(); err != nil {
		return "", err
	}
	return protocol.SimpleString("OK"), nil
}

func (s *Server) cmdIndexNew(args []string) (string, error) {
	parsed, err := protocol.ParseNewIndex(args)
	if err != nil {
		return "", err
	}
	err = s.engine.IndexCreate(hnsw.Config{
		Name:           parsed.Name,
		Dim:            parsed.Dim,
		M:              parsed.M,
		EfConstruction: parsed.EfConstruction,
		Precision:      distance.PrecisionType(parsed.Precision),
	})
	if err != nil {
		return "", err
	}
	return protocol.SimpleString("OK"), nil
}

func (s *Server) cmdIndexGet(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected 1 argument, got %d", protocol.ErrBadArgument, len(args))
	}
	info, err := s.engine.IndexInfo(args[0])
	if err != nil {
		return "", err
	}
	return protocol.Array(
		protocol.BulkString("name"), protocol.BulkString(info.Name),
		protocol.BulkString("dim"), protocol.BulkString(strconv.Itoa(info.Dim)),
		protocol.BulkString("m"), protocol.BulkString(strconv.Itoa(info.M)),
		protocol.BulkString("ef_construction"), protocol.BulkString(strconv.Itoa(info.EfConstruction)),
		protocol.BulkString("max_layer"), protocol.BulkString(strconv.Itoa(info.MaxLayer)),
		protocol.BulkString("entry_point"), protocol.BulkString(info.EntryPoint),
		protocol.BulkString("node_count"), protocol.BulkString(strconv.Itoa(info.NodeCount)),
		protocol.BulkString("precision"), protocol.BulkString(string(info.Precision)),
	), nil
}

func (s *Server) cmdIndexDel(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected 1 argument, got %d", protocol.ErrBadArgument, len(args))
	}
	if err := s.engine.IndexDrop(args[0]); err != nil {
		return "", err
	}
	return protocol.SimpleString("OK"), nil
}

func (s *Server) cmdIndexList(args []string) (string, error) {
	names := s.engine.ListIndexes()
	elements := make([]string, len(names))
	for i, name := range names {
		elements[i] = protocol.BulkString(name)
	}
	return protocol.Array(elements...), nil
}

func (s *Server) cmdNodeAdd(args []string) (string, error) {
	parsed, err := protocol.ParseNodeAdd(args)
	if err != nil {
		return "", err
	}
	if err := s.engine.NodeAdd(parsed.Index, parsed.Node, parsed.Vector); err != nil {
		return "", err
	}
	return protocol.SimpleString("OK"), nil
}

func (s *Server) cmdNodeGet(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("%w: expected 2 arguments, got %d", protocol.ErrBadArgument, len(args))
	}
	info, err := s.engine.NodeGet(args[0], args[1])
	if err != nil {
		return "", err
	}

	elements := []string{
		protocol.BulkString("name"), protocol.BulkString(info.Name),
		protocol.BulkString("vector"), protocol.BulkString(formatFloats(info.Vector)),
		protocol.BulkString("layer"), protocol.BulkString(strconv.Itoa(info.Layer)),
	}
	for lc, names := range info.Neighbors {
		elements = append(elements,
			protocol.BulkString(fmt.Sprintf("neighbors[%d]", lc)),
			protocol.BulkString(strings.Join(names, " ")),
		)
	}
	return protocol.Array(elements...), nil
}

func (s *Server) cmdNodeDel(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("%w: expected 2 arguments, got %d", protocol.ErrBadArgument, len(args))
	}
	if err := s.engine.NodeDelete(args[0], args[1]); err != nil {
		return "", err
	}
	return protocol.SimpleString("OK"), nil
}

func (s *Server) cmdSearch(args []string) (string, error) {
	parsed, err := protocol.ParseSearch(args)
	if err != nil {
		return "", err
	}
	results, err := s.engine.Search(parsed.Index, parsed.Query, parsed.K)
	if err != nil {
		return "", err
	}

	elements := make([]string, 0, 1+2*len(results))
	elements = append(elements, protocol.Integer(len(results)))
	for _, r := range results {
		elements = append(elements,
			protocol.BulkString(strconv.FormatFloat(r.Dist, 'g', -1, 64)),
			protocol.BulkString(r.Name),
		)
	}
	return protocol.Array(elements...), nil
}

func formatFloats(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return strings.Join(parts, " ")
}
