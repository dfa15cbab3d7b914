package routes

import (
	"reflect"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgarchive/internal/metadata"
	"tgarchive/internal/session"
	"tgarchive/internal/stream"
)

type Route struct {
	Name   string
	Engine *gin.Engine
}

func (r *Route) Init(engine *gin.Engine) {
	r.Engine = engine
}

// allRoutes carries every dependency a route handler needs: the C2
// Metadata Store and the C5 Stream Engine, which together implement the
// read path described in spec.md's data-flow diagram (HTTP -> C1 -> C2
// -> C5 -> C4/C3 -> HTTP).
type allRoutes struct {
	log    *zap.Logger
	store  *metadata.Store
	engine *stream.Engine
	pool   *session.Pool
}

// statusPool is consulted by LoadStatus to report session-pool entry
// counts; a package var rather than a field threaded through every
// status helper since the status route is the only consumer.
var statusPool *session.Pool

// Load registers every route on r by reflecting over allRoutes's
// methods, the same registration idiom the donor uses — it keeps adding
// a route a matter of adding a LoadXxx method, not editing a central
// switch.
func Load(log *zap.Logger, r *gin.Engine, store *metadata.Store, engine *stream.Engine, pool *session.Pool) {
	log = log.Named("routes")
	defer log.Sugar().Info("Loaded all API Routes")

	statusPool = pool
	route := &Route{Name: "/", Engine: r}
	route.Init(r)
	all := &allRoutes{log: log, store: store, engine: engine, pool: pool}
	Type := reflect.TypeOf(all)
	Value := reflect.ValueOf(all)
	for i := 0; i < Type.NumMethod(); i++ {
		Type.Method(i).Func.Call([]reflect.Value{Value, reflect.ValueOf(route)})
	}
}

// LoadStatusOnly loads only the status route on a separate router. This
// is used for the dedicated status server on a different port.
func LoadStatusOnly(log *zap.Logger, r *gin.Engine) {
	log = log.Named("routes")
	defer log.Sugar().Info("Loaded status route")
	route := &Route{Name: "/", Engine: r}
	route.Init(r)
	allRoutes := &allRoutes{log: log}
	allRoutes.LoadStatus(route)
}
