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

package create

import (
	gocontext "context"
	"os"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/creation"
	"github.com/plubot/plubot/pkg/cli/infra"
	"github.com/plubot/plubot/pkg/cli/output"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/ui"
	"github.com/spf13/cobra"
)

var (
	toneFlag    string
	colorFlag   string
	purposeFlag string
	messageFlag string
	powersFlag  []string
	flowFlag    string
)

var example = `
 * Create a plubot, prompting for the name
 plubot create

 * Provide the details directly
 plubot create Ventas --tone amigable --power slack --power notion

 * Start from an existing flow
 plubot create Soporte --flow ./flow.json`

func preRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

// NewCmd returns a new create command
func NewCmd(ctx context.PlubotCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create [name]",
		Short:   "Create a new plubot",
		Aliases: []string{"c", "new"},
		Example: example,
		PreRunE: preRun,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&toneFlag, "tone", "", "the tone of the plubot")
	f.StringVar(&colorFlag, "color", "", "the color of the plubot")
	f.StringVar(&purposeFlag, "purpose", "", "what the plubot is for")
	f.StringVarP(&messageFlag, "message", "m", "", "the initial message of the plubot")
	f.StringSliceVar(&powersFlag, "power", nil, "a power of the plubot (repeatable)")
	f.StringVar(&flowFlag, "flow", "", "path to a JSON file with the flow nodes and edges")

	return cmd
}

func readFlow(path string) (*plubot.FlowData, error) {
	if path == "" {
		return nil, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading flow file")
	}

	flow, err := ui.DecodeFlow(string(b))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid flow file %s", path)
	}

	return &flow, nil
}

func getPayload(args []string) (creation.Payload, error) {
	var name string
	if len(args) == 1 {
		name = args[0]
	} else if err := ui.Stdio().PromptInput("name", &name); err != nil {
		return creation.Payload{}, errors.Wrap(err, "getting name input")
	}

	flow, err := readFlow(flowFlag)
	if err != nil {
		return creation.Payload{}, err
	}

	return creation.Payload{
		Name:           name,
		Tone:           toneFlag,
		Color:          colorFlag,
		Purpose:        purposeFlag,
		InitialMessage: messageFlag,
		Powers:         powersFlag,
		FlowData:       flow,
	}, nil
}

func newRun(ctx context.PlubotCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		payload, err := getPayload(args)
		if err != nil {
			return err
		}

		return infra.WithApp(ctx, func(app *infra.App) error {
			res := app.Creation.Create(gocontext.Background(), payload)
			if !res.Success {
				return res.Err
			}

			output.PlubotInfo(res.Plubot)

			return nil
		})
	}
}
