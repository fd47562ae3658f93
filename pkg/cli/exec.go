package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/cli/config"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/utils/async"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// stdout receives command output
var stdout io.Writer = os.Stdout

func cmdExec() *cli.Command {
	var operation, tenantID, idempotencyKey, correlationID, paramsJSON string
	var params []string
	var rtCfg runtimeConfig
	var telemetryCfg config.Telemetry

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "operation",
			Aliases:     []string{"o"},
			Usage:       "Operation to execute, e.g. crm.contact.create",
			Required:    true,
			Destination: &operation,
		},
		&cli.StringFlag{
			Name:        "tenant",
			Aliases:     []string{"t"},
			Usage:       "Tenant on whose behalf the action runs",
			Required:    true,
			Sources:     cli.EnvVars("ACTIONGATE_TENANT"),
			Destination: &tenantID,
		},
		&cli.StringSliceFlag{
			Name:        "param",
			Aliases:     []string{"p"},
			Usage:       "Parameter as key=value. A value that is valid JSON is decoded, otherwise it is a string",
			Destination: &params,
		},
		&cli.StringFlag{
			Name:        "params-json",
			Usage:       "Parameters as a JSON object; --param entries override its keys",
			Destination: &paramsJSON,
		},
		&cli.StringFlag{
			Name:        "idempotency-key",
			Usage:       "Idempotency key of the request",
			Destination: &idempotencyKey,
		},
		&cli.StringFlag{
			Name:        "correlation-id",
			Usage:       "Correlation ID; generated when omitted",
			Destination: &correlationID,
		},
	}
	flags = append(flags, rtCfg.Flags()...)
	flags = append(flags, telemetryCfg.Flags()...)

	return &cli.Command{
		Name:    "exec",
		Aliases: []string{"x"},
		Usage:   "Execute one action through the pipeline and print the result as JSON",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			parameters, err := parseParams(paramsJSON, params)
			if err != nil {
				return err
			}
			req := model.ActionRequest{
				Operation:      types.Operation(operation),
				TenantID:       types.TenantID(tenantID),
				Parameters:     parameters,
				IdempotencyKey: types.IdempotencyKey(idempotencyKey),
				CorrelationID:  types.CorrelationID(correlationID),
			}

			shutdownTracer, err := telemetryCfg.Configure()
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logging.Default().Error("failed to shutdown tracer", "error", err.Error())
				}
			}()

			rt, err := rtCfg.build(ctx)
			if err != nil {
				return err
			}
			defer rt.closer()

			result, execErr := rt.uc.Action.Execute(ctx, &req)
			if !async.Wait(auditDrainTimeout) {
				logging.Default().Warn("Audit emission did not finish", "timeout", auditDrainTimeout)
			}

			if execErr != nil {
				ae, ok := model.ActionErrorFrom(execErr)
				if !ok {
					return execErr
				}
				if err := printJSON(model.ErrorResponse{Error: ae}); err != nil {
					return err
				}
				return ae
			}
			return printJSON(result)
		},
	}
}

// parseParams merges the JSON object with key=value pairs
func parseParams(raw string, pairs []string) (map[string]any, error) {
	params := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, goerr.Wrap(err, "params-json must be a JSON object")
		}
	}

	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, goerr.New("param must be key=value", goerr.V("param", p))
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}
