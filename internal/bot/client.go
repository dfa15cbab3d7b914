package bot

import (
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"

	"tgarchive/config"
)

// StartClient starts the main bot identity — the one used for archive
// channel operations (forwarding uploads, indexing) that must go
// through a single fixed identity rather than whichever worker the load
// balancer hands out. Grounded on startWorker, using a session file
// distinct from the MULTI_TOKEN worker pool's.
func StartClient(log *zap.Logger) (*gotgproto.Client, error) {
	named := log.Named("MainClient")
	named.Sugar().Info("Starting main client")

	var sessionType sessionMaker.SessionConstructor
	if config.ValueOf.UseSessionFile {
		sessionType = sessionMaker.SqlSession(sqlite.Open("sessions/main.session"))
	} else {
		sessionType = sessionMaker.SimpleSession()
	}

	client, err := gotgproto.NewClient(
		int(config.ValueOf.ApiID),
		config.ValueOf.ApiHash,
		gotgproto.ClientTypeBot(config.ValueOf.BotToken),
		&gotgproto.ClientOpts{
			Session:          sessionType,
			DisableCopyright: true,
			Middlewares:      GetFloodMiddleware(named),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("start main client: %w", err)
	}
	return client, nil
}
