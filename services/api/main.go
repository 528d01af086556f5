// Service exposing the coordinator over HTTP: current state, the action
// schedule and a control endpoint for issuing device commands.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/services"
	"github.com/homehub/coordinator/services/coordinator"
)

type Service struct{}

func (s *Service) ID() string {
	return "api"
}

func errorResponse(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), 500)
}

func jsonResponse(w http.ResponseWriter, obj interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	err := enc.Encode(obj)
	if err != nil {
		errorResponse(w, err)
	}
}

func apiIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, "<html>Coordinator is listening</html>")
}

// running returns the coordinator handle, or answers 503 when the
// coordinator service is not up.
func running(w http.ResponseWriter) *coordinator.Service {
	coord := coordinator.Current()
	if coord == nil {
		http.Error(w, "coordinator not running", http.StatusServiceUnavailable)
	}
	return coord
}

func apiStatus(w http.ResponseWriter, r *http.Request) {
	coord := running(w)
	if coord == nil {
		return
	}
	snapshot := coord.Snapshot()
	jsonResponse(w, map[string]interface{}{
		"at":              snapshot.At.Format(time.RFC3339),
		"armed":           snapshot.Armed,
		"peak_hour":       snapshot.PeakHour,
		"aggregate_power": snapshot.AggregatePower(),
		"entities":        len(snapshot.Entities()),
		"scheduled":       len(coord.Pending()),
		"rules":           coord.Rules(),
	})
}

func apiSnapshot(w http.ResponseWriter, r *http.Request) {
	coord := running(w)
	if coord == nil {
		return
	}
	jsonResponse(w, coord.Snapshot().Latest())
}

type taskResponse struct {
	ID     string    `json:"id"`
	Target string    `json:"target"`
	Kind   string    `json:"kind"`
	Rule   string    `json:"rule"`
	FireAt time.Time `json:"fire_at"`
}

func apiSchedule(w http.ResponseWriter, r *http.Request) {
	coord := running(w)
	if coord == nil {
		return
	}
	tasks := []taskResponse{}
	for _, task := range coord.Pending() {
		tasks = append(tasks, taskResponse{
			ID:     task.ID,
			Target: task.Action.Target,
			Kind:   string(task.Action.Kind),
			Rule:   task.Action.Rule,
			FireAt: task.FireAt,
		})
	}
	jsonResponse(w, tasks)
}

type actionResponse struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Rule   string `json:"rule"`
}

func apiActions(w http.ResponseWriter, r *http.Request) {
	coord := running(w)
	if coord == nil {
		return
	}
	actions := []actionResponse{}
	for _, action := range coord.Recent() {
		actions = append(actions, actionResponse{
			Target: action.Target,
			Kind:   string(action.Kind),
			Rule:   action.Rule,
		})
	}
	jsonResponse(w, actions)
}

func apiControl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := q.Get("id")
	command := q.Get("command")
	if device == "" || command == "" {
		http.Error(w, "id and command required", http.StatusBadRequest)
		return
	}
	ev := pubsub.NewCommand(device, command, "api")
	services.Publisher.Emit(ev)
	jsonResponse(w, true)
}

func router() *mux.Router {
	router := mux.NewRouter()
	router.Path("/").HandlerFunc(apiIndex)
	router.Path("/status").HandlerFunc(apiStatus)
	router.Path("/snapshot").HandlerFunc(apiSnapshot)
	router.Path("/schedule").HandlerFunc(apiSchedule)
	router.Path("/actions").HandlerFunc(apiActions)
	router.Path("/control").HandlerFunc(apiControl)
	return router
}

type loggingHandler struct {
	Handler http.Handler
}

func (h loggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Printf("%s %s\n", req.Method, req.RequestURI)
	h.Handler.ServeHTTP(w, req)
}

func (s *Service) Run() error {
	port := services.Config.Api.Port
	if port == 0 {
		port = 8723
	}
	addr := fmt.Sprintf(":%d", port)
	log.Println("Listening on " + addr)
	return http.ListenAndServe(addr, loggingHandler{Handler: router()})
}
