package server

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

// parseFloat accepts the inf forms used by scores and rejects NaN
func parseFloat(b []byte) (float64, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) {
		return 0, ErrNotFloat
	}
	return f, nil
}

func formatInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

// equalFold reports whether an argument equals an upper case option name
func equalFold(arg []byte, option string) bool {
	return strings.EqualFold(string(arg), option)
}

func bulkOrNil(v string, ok bool) resp.Value {
	if !ok {
		return resp.MakeNilBulkString()
	}
	return resp.MakeBulkString(v)
}

// sortedBulkArray renders set or hash members in byte order
func sortedBulkArray(items []string) resp.Value {
	sort.Strings(items)
	return resp.MakeBulkArray(items)
}

func scoreBound(b []byte) (storage.ScoreBound, error) {
	var bound storage.ScoreBound
	s := string(b)
	if strings.HasPrefix(s, "(") {
		bound.Exclusive = true
		s = s[1:]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return bound, errMinMaxNotFloat
	}
	bound.Value = f
	return bound, nil
}
