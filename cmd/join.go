package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/pborman/uuid"
	"github.com/spf13/cobra"

	videoroom "github.com/kevin29a/videoroom/pkg"
	"github.com/kevin29a/videoroom/pkg/layout"
	"github.com/kevin29a/videoroom/pkg/logger"
	signalpkg "github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

var (
	joinRoomID   string
	joinDisplay  string
	joinPin      string
	joinListen   bool
	joinWidth    int
	joinHeight   int
	joinAudioDev string
	joinVideoDev string

	joinCmd = &cobra.Command{
		Use:   "join",
		Short: "join a videoroom and publish local media",
		RunE:  joinMain,
	}
)

func init() {
	joinCmd.PersistentFlags().StringVarP(&joinRoomID, "room", "r", "", "room id to join")
	joinCmd.PersistentFlags().StringVarP(&joinDisplay, "display", "d", "", "display name shown to other publishers")
	joinCmd.PersistentFlags().StringVar(&joinPin, "pin", "", "room pin")
	joinCmd.PersistentFlags().BoolVar(&joinListen, "listen", false, "join as listener, do not publish")
	joinCmd.PersistentFlags().IntVar(&joinWidth, "width", 1280, "viewport width for layout computation")
	joinCmd.PersistentFlags().IntVar(&joinHeight, "height", 720, "viewport height for layout computation")
	joinCmd.PersistentFlags().StringVar(&joinAudioDev, "audio-device", "", "audio capture device id")
	joinCmd.PersistentFlags().StringVar(&joinVideoDev, "video-device", "", "video capture device id")
	joinCmd.PersistentFlags().StringVar(&conf.MetricsAddr, "metrics-addr", "", "prometheus listen address")

	rootCmd.AddCommand(joinCmd)
}

func joinMain(cmd *cobra.Command, args []string) error {
	log := logger.GetLogger().WithName("join")

	if joinRoomID != "" {
		conf.Room.RoomID = types.RoomID(joinRoomID)
	}
	if joinDisplay != "" {
		conf.Room.DisplayName = joinDisplay
	}
	if joinPin != "" {
		conf.Room.Pin = joinPin
	}
	if joinListen {
		conf.Room.Role = videoroom.RoleListener
	}
	if conf.Room.UserID == "" {
		conf.Room.UserID = uuid.New()
	}

	sig := signalpkg.NewJSONRPCSignalClient()
	viewport := layout.Viewport{Width: joinWidth, Height: joinHeight}
	session, err := videoroom.NewSession(conf, sig, viewport)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if conf.MetricsAddr != "" {
		r := mux.NewRouter()
		r.Handle("/metrics", videoroom.MetricsHandler())
		go func() {
			log.Info("serving metrics", "addr", conf.MetricsAddr)
			if err := http.ListenAndServe(conf.MetricsAddr, r); err != nil {
				log.Error(err, "metrics server")
			}
		}()
	}

	log.Info("--- Joining room ---", "room", conf.Room.RoomID, "user", conf.Room.UserID)
	if err := session.Start(ctx); err != nil {
		return err
	}

	if conf.Room.Role == videoroom.RolePublisher {
		if err := session.PublishOwnFeed(ctx, signalpkg.PublishParams{
			AudioDeviceID: joinAudioDev,
			VideoDeviceID: joinVideoDev,
		}); err != nil {
			return err
		}
	}

	snapshots, unsubscribe := session.Snapshots()
	defer unsubscribe()

	// Listen for signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Select on channels from the different modules
	for {
		select {
		case roomErr := <-session.Errors():
			log.Error(roomErr, "fatal room error", "code", roomErr.Code)
			return roomErr
		case grid := <-session.Layouts():
			log.V(1).Info("layout updated",
				"videoWidth", grid.VideoWidth, "videoHeight", grid.VideoHeight)
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			log.V(1).Info("room state",
				"state", snap.Room.State, "publish", snap.Room.PublishState,
				"feeds", len(snap.RemoteFeeds), "ready", len(snap.ReadyFeeds()))
		case s := <-sigs:
			fmt.Fprintf(os.Stderr, "got signal %v, leaving room\n", s)
			return nil
		}
	}
}
