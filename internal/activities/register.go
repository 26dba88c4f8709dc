package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.StartRunActivity)
	w.RegisterActivity(a.FinishRunActivity)
	w.RegisterActivity(a.IngestActivity)
	w.RegisterActivity(a.CleanActivity)
	w.RegisterActivity(a.TransformActivity)
	w.RegisterActivity(a.ValidationActivity)
	w.RegisterActivity(a.SplitActivity)
	w.RegisterActivity(a.TokenizeActivity)
	w.RegisterActivity(a.LoadActivity)
	w.RegisterActivity(a.TrainActivity)
	w.RegisterActivity(a.EvaluateActivity)
	w.RegisterActivity(a.LoadArtifactActivity)
}
