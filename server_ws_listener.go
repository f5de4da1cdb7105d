package framecast

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type serverWSListener struct {
	s *Server

	ln       net.Listener
	httpServ *http.Server
	upgrader websocket.Upgrader
}

func (sl *serverWSListener) initialize() error {
	var err error
	sl.ln, err = sl.s.Listen("tcp", sl.s.WebSocketAddress)
	if err != nil {
		return err
	}

	sl.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}

	sl.httpServ = &http.Server{
		Handler:           sl,
		ReadHeaderTimeout: sl.s.WriteTimeout,
		ErrorLog:          zap.NewStdLog(sl.s.Logger),
	}

	sl.s.wg.Add(1)
	go sl.run()

	return nil
}

func (sl *serverWSListener) close() {
	sl.httpServ.Close()
}

func (sl *serverWSListener) run() {
	defer sl.s.wg.Done()

	err := sl.httpServ.Serve(sl.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		sl.s.acceptErr(err)
	}
}

// ServeHTTP implements http.Handler.
func (sl *serverWSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if sl.s.endpoint.Path != "" && r.URL.Path != "/"+sl.s.endpoint.Path {
		http.NotFound(w, r)
		return
	}

	wc, err := sl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sl.s.Logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	sl.s.newWSConn(wc)
}

const wsCloseTimeout = time.Second
