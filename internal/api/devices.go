package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devio-core/internal/device"
)

// maxTransferSize caps the length of a single read or write over HTTP.
const maxTransferSize = 64 * 1024

// deviceView is the JSON shape of a single device.
type deviceView struct {
	device.Entry
	CreatedAt time.Time    `json:"created_at"`
	Closed    bool         `json:"closed"`
	Readable  bool         `json:"readable"`
	Writable  bool         `json:"writable"`
	Stats     device.Stats `json:"stats"`
}

func newDeviceView(d *device.Device) deviceView {
	nb := &device.Description{NonBlocking: true}
	return deviceView{
		Entry:     d.Entry(),
		CreatedAt: d.CreatedAt(),
		Closed:    d.IsClosed(),
		Readable:  d.CanRead(nb, 1),
		Writable:  d.CanWrite(nb, 1),
		Stats:     d.Stats(),
	}
}

// transferRequest is the body of POST .../read and .../write.
type transferRequest struct {
	Offset      int64  `json:"offset"`
	Length      int    `json:"length,omitempty"` // read only
	Data        []byte `json:"data,omitempty"`   // write only, base64
	NonBlocking bool   `json:"nonblocking"`
	TimeoutMS   int    `json:"timeout_ms"`
}

func (t transferRequest) description() *device.Description {
	return &device.Description{
		NonBlocking: t.NonBlocking,
		Timeout:     time.Duration(t.TimeoutMS) * time.Millisecond,
	}
}

// transferResponse is returned by a successful read or write.
type transferResponse struct {
	N    int    `json:"n"`
	Data []byte `json:"data,omitempty"`
}

// handleListDevices returns all registered devices.
//
// Query parameters:
//   - kind: filter by kind (character, block)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var kind device.Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = device.Kind(k)
		if kind != device.KindCharacter && kind != device.KindBlock {
			writeBadRequest(w, "invalid kind: "+k)
			return
		}
	}

	devices := make([]deviceView, 0, s.registry.Count())
	s.registry.ForEach(func(d *device.Device) bool {
		if kind == "" || d.Kind() == kind {
			devices = append(devices, newDeviceView(d))
		}
		return true
	})
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleRegistryStats returns per-kind device counts and summed I/O counters.
func (s *Server) handleRegistryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDevice returns a single device by major/minor.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(d))
}

// handleDeviceRequests returns the device's queued and in-flight requests.
func (s *Server) handleDeviceRequests(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	reqs := d.Requests()
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs, "count": len(reqs)})
}

// handleDeviceRead reads up to length bytes from the device.
func (s *Server) handleDeviceRead(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Length <= 0 || req.Length > maxTransferSize {
		writeBadRequest(w, "length must be between 1 and "+strconv.Itoa(maxTransferSize))
		return
	}
	if req.Offset < 0 || req.TimeoutMS < 0 {
		writeBadRequest(w, "offset and timeout_ms must not be negative")
		return
	}

	buf := make([]byte, req.Length)
	n, err := d.Read(r.Context(), req.description(), req.Offset, buf)
	if err != nil {
		s.logger.Debug("device read failed", "device", d.ID().String(), "error", err)
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{N: n, Data: buf[:n]})
}

// handleDeviceWrite writes the base64-decoded data to the device.
func (s *Server) handleDeviceWrite(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Data) > maxTransferSize {
		writeBadRequest(w, "data exceeds "+strconv.Itoa(maxTransferSize)+" bytes")
		return
	}
	if req.Offset < 0 || req.TimeoutMS < 0 {
		writeBadRequest(w, "offset and timeout_ms must not be negative")
		return
	}

	n, err := d.Write(r.Context(), req.description(), req.Offset, req.Data)
	if err != nil {
		s.logger.Debug("device write failed", "device", d.ID().String(), "error", err)
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transferResponse{N: n})
}

// lookupDevice resolves the {major}/{minor} URL parameters, writing the
// error response itself when it returns false.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id, err := parseDeviceID(chi.URLParam(r, "major"), chi.URLParam(r, "minor"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	d, err := s.registry.Lookup(id)
	if err != nil {
		writeDeviceError(w, err)
		return nil, false
	}
	return d, true
}

// parseDeviceID parses decimal major and minor numbers.
func parseDeviceID(major, minor string) (device.ID, error) {
	ma, err := strconv.ParseUint(major, 10, 32)
	if err != nil {
		return device.ID{}, &paramError{name: "major", value: major}
	}
	mi, err := strconv.ParseUint(minor, 10, 32)
	if err != nil {
		return device.ID{}, &paramError{name: "minor", value: minor}
	}
	return device.ID{Major: uint32(ma), Minor: uint32(mi)}, nil
}

// paramError reports an unparsable URL or query parameter.
type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + ": " + strconv.Quote(e.value)
}
