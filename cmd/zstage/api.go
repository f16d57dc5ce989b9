package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mastercactapus/zstage/stage"
	"github.com/mastercactapus/zstage/transport"
	"github.com/mastercactapus/zstage/zaber"
)

// LineDoer sends raw command lines, for the websocket console.
type LineDoer interface {
	DoLine(ctx context.Context, line string) (*zaber.Reply, error)
}

type api struct {
	http.Handler
	xy      *stage.XY
	console LineDoer
	sse     *sse.Server
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func newAPI(xy *stage.XY, console LineDoer, logger *slog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		xy:      xy,
		console: console,
		log:     logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/axes/{axis:[0-9]}", a.axisState).Methods("GET")
	r.HandleFunc("/api/axes/{axis:[0-9]}/home", a.home).Methods("POST")
	r.HandleFunc("/api/axes/{axis:[0-9]}/move", a.move).Methods("POST")
	r.HandleFunc("/api/axes/{axis:[0-9]}/stop", a.stop).Methods("POST")
	r.HandleFunc("/api/xy", a.xyState).Methods("GET")
	r.HandleFunc("/api/xy/move", a.xyMove).Methods("POST")
	r.HandleFunc("/ws/console", a.wsConsole)
	r.PathPrefix("/events/").Handler(a.sse)

	return a
}

// publish forwards state changes to SSE clients until the channel closes
// or ctx is done.
func (a *api) publish(ctx context.Context, states <-chan stage.StateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			data, err := json.Marshal(s)
			if err != nil {
				a.log.Error("ERROR: marshal json", "err", err)
				continue
			}
			a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
		}
	}
}

func (a *api) Close() { a.sse.Shutdown() }

func errorStatus(err error) int {
	var (
		nerr *stage.NotHomedError
		lerr *stage.LimitError
		aerr *stage.AxisError
		serr *zaber.StageError
		eerr *zaber.EncodingError
		perr *zaber.ProtocolError
		cerr *transport.ConnectionError
	)
	switch {
	case errors.As(err, &aerr):
		if aerr.Unknown {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.As(err, &nerr):
		return http.StatusConflict
	case errors.As(err, &lerr), errors.As(err, &eerr):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &serr), errors.As(err, &perr), errors.As(err, &cerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	code := errorStatus(err)
	if code >= 500 {
		a.log.Error("ERROR: "+op, "err", err)
	}
	http.Error(w, err.Error(), code)
}

func (a *api) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("ERROR: encode", "err", err)
	}
}

func axisParam(req *http.Request) int {
	// the route pattern guarantees a single digit
	n, _ := strconv.Atoi(mux.Vars(req)["axis"])
	return n
}

type axisInfo struct {
	Axis     int             `json:"axis"`
	State    stage.AxisState `json:"state"`
	Status   zaber.Status    `json:"status"`
	Position int64           `json:"position"`
}

func (a *api) axisState(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	axis := axisParam(req)
	st, err := a.xy.Status(ctx, axis)
	if err != nil {
		a.fail(w, "status", err)
		return
	}
	pos, err := a.xy.Position(ctx, axis)
	if err != nil {
		a.fail(w, "position", err)
		return
	}
	a.writeJSON(w, axisInfo{Axis: axis, State: a.xy.State(axis), Status: st, Position: pos})
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	if req.FormValue("block") == "0" {
		if err := a.xy.StartHome(req.Context(), axisParam(req)); err != nil {
			a.fail(w, "home", err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := a.xy.Home(req.Context(), axisParam(req)); err != nil {
		a.fail(w, "home", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) stop(w http.ResponseWriter, req *http.Request) {
	if err := a.xy.Stop(req.Context(), axisParam(req)); err != nil {
		a.fail(w, "stop", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	axis := axisParam(req)

	var err error
	if s := req.FormValue("delta"); s != "" {
		var d int64
		d, err = strconv.ParseInt(s, 10, 64)
		if err == nil {
			err = a.xy.MoveRelative(ctx, axis, d)
		}
	} else {
		var p int64
		p, err = strconv.ParseInt(req.FormValue("position"), 10, 64)
		if err == nil {
			err = a.xy.MoveAbsolute(ctx, axis, p)
		}
	}
	var nerr *strconv.NumError
	if errors.As(err, &nerr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		a.fail(w, "move", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type xyInfo struct {
	X      float64            `json:"x"`
	Y      float64            `json:"y"`
	States [2]stage.AxisState `json:"states"`
}

func (a *api) xyState(w http.ResponseWriter, req *http.Request) {
	pos, err := a.xy.PositionMM(req.Context())
	if err != nil {
		a.fail(w, "position", err)
		return
	}
	a.writeJSON(w, xyInfo{
		X:      pos.X,
		Y:      pos.Y,
		States: [2]stage.AxisState{a.xy.State(stage.AxisX), a.xy.State(stage.AxisY)},
	})
}

func (a *api) xyMove(w http.ResponseWriter, req *http.Request) {
	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}
	x := parse("x")
	y := parse("y")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	relative := req.FormValue("relative") == "1"
	block := req.FormValue("block") != "0"

	err = a.xy.MoveMM(req.Context(), x, y, relative, block)
	if err != nil {
		a.fail(w, "move", err)
		return
	}
	if !block {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	a.xyState(w, req)
}

// wsConsole answers each text message, a raw command line, with the
// reply line or an error.
func (a *api) wsConsole(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Error("ERROR: upgrade websocket", "err", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("websocket closed", "err", err)
			}
			return
		}
		var out string
		r, err := a.console.DoLine(req.Context(), string(msg))
		switch {
		case r != nil:
			out = r.String()
		case err != nil:
			out = "ERROR: " + err.Error()
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(out)); err != nil {
			a.log.Error("ERROR: write websocket", "err", err)
			return
		}
	}
}
