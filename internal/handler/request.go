package handler

import (
	"bytes"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pismenka-api/internal/domain"
)

const maxBodyBytes = 1 << 16

// flexInt decodes a JSON number or a numeric string. Anything else, including
// null, reads as zero and is rejected later by validation.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = 0
		return nil
	}
	if f > math.MaxInt32 {
		f = math.MaxInt32
	}
	if f < math.MinInt32 {
		f = math.MinInt32
	}
	*n = flexInt(int(f))
	return nil
}

// gameRequest is the union of every parameter an action may take
type gameRequest struct {
	Action        string  `json:"action"`
	Word          string  `json:"word"`
	Moves         flexInt `json:"moves"`
	Time          flexInt `json:"time"`
	PlayerName    string  `json:"player_name"`
	AdminPassword string  `json:"admin_password"`
	Date          string  `json:"date"`
}

func (g gameRequest) submission(r *http.Request) domain.Submission {
	return domain.Submission{
		Word:          g.Word,
		Moves:         int(g.Moves),
		TimeSeconds:   int(g.Time),
		PlayerName:    g.PlayerName,
		OriginAddress: originAddress(r),
		ClientAgent:   r.UserAgent(),
	}
}

// decodeBody reads a JSON body into dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst *gameRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// queryRequest builds a request from GET parameters
func queryRequest(r *http.Request) gameRequest {
	q := r.URL.Query()
	return gameRequest{
		Action: q.Get("action"),
		Word:   q.Get("word"),
		Date:   q.Get("date"),
	}
}

// originAddress identifies the submitting client: the first X-Forwarded-For
// hop, then X-Real-IP, then the peer address.
func originAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
