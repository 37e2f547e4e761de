/* Copyright 2025 Plubot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package recover

import (
	gocontext "context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/log"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/recovery"
	"github.com/plubot/plubot/pkg/cli/repository"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/plubot/plubot/pkg/cli/utils"
	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
)

const pollInterval = 500 * time.Millisecond

func newWatchCmd(ctx context.PlubotCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <plubot id> <flow file>",
		Short: "Save a flow file into a plubot and offer recovery when it gets wiped",
		Args:  cobra.ExactArgs(2),
		RunE:  runWatch(ctx),
	}
}

// session applies the content of a watched flow file to a plubot
type session struct {
	id       string
	path     string
	repo     *repository.Repository
	detector *recovery.Detector
	// ask decides an open recovery prompt. true restores the snapshot.
	ask func(recovery.Event) (bool, error)
}

func (s *session) read() (plubot.FlowData, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return plubot.FlowData{}, errors.Wrapf(err, "reading %s", s.path)
	}

	return ui.DecodeFlow(string(b))
}

func (s *session) write(flow plubot.FlowData) error {
	raw, err := ui.EncodeFlow(flow)
	if err != nil {
		return err
	}

	return errors.Wrapf(utils.WriteFileAtomic(s.path, []byte(raw), 0644), "writing %s", s.path)
}

// handle observes a new version of the flow and saves it
func (s *session) handle(flow plubot.FlowData) error {
	ev, err := s.detector.Track(flow)
	if err != nil {
		log.Warnf("could not save an emergency snapshot: %s\n", err.Error())
	}

	if ev.Kind == recovery.EventRecoveryOffered {
		restore, err := s.ask(ev)
		if err != nil {
			return errors.Wrap(err, "asking about recovery")
		}

		if restore {
			flow, err = s.detector.Recover()
			if err != nil {
				return err
			}
			if err := s.write(flow); err != nil {
				return err
			}
		} else if err := s.detector.Dismiss(); err != nil {
			return err
		}
	}

	return errors.Wrap(s.repo.UpdateFlow(s.id, flow), "saving flow")
}

func (s *session) handleFile() {
	flow, err := s.read()
	if err != nil {
		log.Warnf("ignoring change: %s\n", err.Error())
		return
	}

	if err := s.handle(flow); err != nil {
		log.Errorf("%s\n", err.Error())
		return
	}

	log.Debug("saved %d node(s)\n", flow.NodeCount())
}

func runWatch(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		id, path := args[0], args[1]

		return infra.WithApp(ctx, func(app *infra.App) error {
			if _, ok := app.Repository.Get(id); !ok {
				return errors.Errorf("plubot '%s' not found", id)
			}

			term := ui.Stdio()
			s := &session{
				id:   id,
				path: path,
				repo: app.Repository,
				detector: recovery.New(recovery.Options{
					Backup:   app.Backup,
					PlubotID: id,
					Notifier: app.Notifier,
					Logger:   app.Ctx.Logger,
				}),
				ask: term.PromptRecovery,
			}
			s.handleFile()

			w := watcher.New()
			w.SetMaxEvents(1)
			w.FilterOps(watcher.Write, watcher.Create)
			if err := w.Add(path); err != nil {
				return errors.Wrapf(err, "watching %s", path)
			}

			sigCtx, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				for {
					select {
					case <-w.Event:
						s.handleFile()
					case err := <-w.Error:
						log.Warnf("watcher: %s\n", err.Error())
					case <-sigCtx.Done():
						w.Close()
						return
					case <-w.Closed:
						return
					}
				}
			}()

			log.Infof("watching %s. Press Ctrl+C to stop\n", path)
			if err := w.Start(pollInterval); err != nil {
				return errors.Wrap(err, "starting watcher")
			}

			return nil
		})
	}
}
