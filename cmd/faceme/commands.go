package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/faceme-bridge/internal/faceme"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the FaceMe server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.HealthCheck(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(a.out, faceme.HealthyBody)
			return err
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return a.simple("status", "Show the engine setup status", cobra.NoArgs, func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		return a.client.EngineStatus(ctx)
	})
}

func (a *app) enrollCmd() *cobra.Command {
	return a.simple("enroll IMAGE_ID IMAGE", "Enroll the face in IMAGE under IMAGE_ID", cobra.ExactArgs(2), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		return a.client.Enroll(ctx, args[0], args[1], features)
	})
}

func (a *app) deleteCmd() *cobra.Command {
	return a.simple("delete IMAGE_ID", "Delete an enrolled face", cobra.ExactArgs(1), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		return a.client.DeleteEnrollment(ctx, args[0])
	})
}

func (a *app) compareCmd() *cobra.Command {
	return a.simple("compare IMAGE1 IMAGE2", "Compare the faces in two images", cobra.ExactArgs(2), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		return a.client.CompareImages(ctx, args[0], args[1], features)
	})
}

func (a *app) compareTemplatesCmd() *cobra.Command {
	var facesInfo string
	cmd := a.simple("compare-templates TEMPLATE1 TEMPLATE2", "Compare two face templates", cobra.ExactArgs(2), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		info, err := jsonFlag("faces-info", facesInfo)
		if err != nil {
			return nil, err
		}
		return a.client.CompareTemplates(ctx, args[0], args[1], info)
	})
	cmd.Flags().StringVar(&facesInfo, "faces-info", `{"face1FeatureType":3,"face1FeatureSubType":0,"face1ByteOrder":"big","face2FeatureType":3,"face2FeatureSubType":0,"face2ByteOrder":"big"}`, "template metadata as JSON")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var criteria string
	cmd := a.simple("search IMAGE", "Search the enrolled faces most similar to IMAGE", cobra.ExactArgs(1), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		c, err := jsonFlag("criteria", criteria)
		if err != nil {
			return nil, err
		}
		return a.client.SearchFaces(ctx, args[0], orDefault(features), c)
	})
	cmd.Flags().StringVar(&criteria, "criteria", `{"returnCount":3}`, "search criteria as JSON")
	return cmd
}

func (a *app) compareIDCmd() *cobra.Command {
	return a.simple("compare-id IMAGE IMAGE_ID", "Compare IMAGE with the face enrolled under IMAGE_ID", cobra.ExactArgs(2), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		return a.client.CompareByID(ctx, args[0], faceme.SearchCriteria{ImageID: args[1]}, orDefault(features))
	})
}

func (a *app) qualityCmd() *cobra.Command {
	return a.simple("quality IMAGE", "Check the quality of the face in IMAGE", cobra.ExactArgs(1), func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error) {
		if features == nil {
			features = faceme.Features{"qualityCheck": true}
		}
		return a.client.CheckQuality(ctx, args[0], features)
	})
}

type spoofingCall func(c *faceme.Client, ctx context.Context, images []string, detail any) (*faceme.Result, error)

func (a *app) spoofCmd(use, short string, call spoofingCall) *cobra.Command {
	var detail string
	cmd := &cobra.Command{
		Use:   use + " IMAGE...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := jsonFlag("detail", detail)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("--detail is required")
			}
			res, err := call(a.client, cmd.Context(), args, d)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&detail, "detail", "", "anti-spoofing detail as JSON")
	return cmd
}

type runFunc func(ctx context.Context, args []string, features faceme.Features) (*faceme.Result, error)

// simple builds a command that takes an optional --features object and
// prints the result.
func (a *app) simple(use, short string, args cobra.PositionalArgs, run runFunc) *cobra.Command {
	var features string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := featuresFlag(features)
			if err != nil {
				return err
			}
			res, err := run(cmd.Context(), args, f)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&features, "features", "", "features as JSON")
	return cmd
}

func orDefault(f faceme.Features) faceme.Features {
	if f == nil {
		return faceme.DefaultComparisonFeatures()
	}
	return f
}
