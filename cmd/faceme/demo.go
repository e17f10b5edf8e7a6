package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/faceme-bridge/internal/faceme"
)

type demoInputs struct {
	image1    string
	image2    string
	template1 string
	template2 string
}

const demoCamera = "Vimicro USB2.0 PC Camera (0ac8:3410)"

func (a *app) demoCmd() *cobra.Command {
	in := demoInputs{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run every operation once against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.demo(cmd, in)
		},
	}
	cmd.Flags().StringVar(&in.image1, "image1", "data/test1.jpg", "first face image")
	cmd.Flags().StringVar(&in.image2, "image2", "data/test2.jpg", "second face image")
	cmd.Flags().StringVar(&in.template1, "template1", "data/test1.ft", "first face template")
	cmd.Flags().StringVar(&in.template2, "template2", "data/test1.ft", "second face template")
	return cmd
}

func (a *app) demo(cmd *cobra.Command, in demoInputs) error {
	ctx := cmd.Context()
	c := a.client

	step := func(name string, res *faceme.Result, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := fmt.Fprintf(a.out, "== %s\n", name); err != nil {
			return err
		}
		return a.print(res)
	}

	if err := c.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if _, err := fmt.Fprintf(a.out, "== health\n%s\n", faceme.HealthyBody); err != nil {
		return err
	}

	res, err := c.EngineStatus(ctx)
	if err := step("status", res, err); err != nil {
		return err
	}

	enrolled, err := c.Enroll(ctx, fmt.Sprintf("test_%d", time.Now().Unix()), in.image1, faceme.Features{"showDetail": true})
	if err := step("enroll", enrolled, err); err != nil {
		return err
	}
	var enrollment struct {
		ImageMetadata faceme.ImageMetadata `json:"imageMetadata"`
	}
	if err := enrolled.Decode(&enrollment); err != nil || enrollment.ImageMetadata.ImageID == "" {
		return fmt.Errorf("enroll: reply carries no imageMetadata.imageID")
	}
	imageID := enrollment.ImageMetadata.ImageID

	res, err = c.CompareImages(ctx, in.image1, in.image2, faceme.Features{"qualityCheck": false, "showDetail": true})
	if err := step("compare", res, err); err != nil {
		return err
	}

	res, err = c.CompareByID(ctx, in.image1, faceme.SearchCriteria{ImageID: imageID}, faceme.Features{"qualityCheck": true, "showDetail": true})
	if err := step("compare-id", res, err); err != nil {
		return err
	}

	info := faceme.FacesInfo{
		Face1FeatureType: 3, Face1ByteOrder: "big",
		Face2FeatureType: 3, Face2ByteOrder: "big",
	}
	res, err = c.CompareTemplates(ctx, in.template1, in.template2, info)
	if err := step("compare-templates", res, err); err != nil {
		return err
	}

	res, err = c.SearchFaces(ctx, in.image1, faceme.Features{"qualityCheck": false, "showDetail": true}, faceme.SearchCriteria{ReturnCount: 3})
	if err := step("search", res, err); err != nil {
		return err
	}

	res, err = c.CheckQuality(ctx, in.image1, faceme.Features{"qualityCheck": true})
	if err := step("quality", res, err); err != nil {
		return err
	}

	res, err = c.DeleteEnrollment(ctx, imageID)
	if err := step("delete", res, err); err != nil {
		return err
	}

	images := []string{in.image1, in.image2}
	enable2Stage := false
	res, err = c.CheckSpoofing(ctx, images, faceme.SpoofingDetail{
		PrecisionLevel: "standard",
		CameraInfo:     demoCamera,
		Enable2Stage:   &enable2Stage,
		Status:         []float64{0.648, 0.593, 0.552, 0.534, 0.496, 0.536, 0.539, 0.565, 0.6136, 0.6245, 0.625, 0.6070, 0.6367, 0.648, 0.645},
	})
	if err := step("spoof", res, err); err != nil {
		return err
	}

	previous := 0.52726555
	res, err = c.CheckSpoofingSecondStage(ctx, images, faceme.SpoofingDetail{
		PrecisionLevel: "standard",
		CameraInfo:     demoCamera,
		Dir:            "left",
		Previous:       &previous,
	})
	return step("spoof-second-stage", res, err)
}
