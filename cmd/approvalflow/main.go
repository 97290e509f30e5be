package main

import (
	"log/slog"

	"github.com/approvalhq/approvalflow/pkg/approvalflow"
	"github.com/approvalhq/approvalflow/pkg/approvalflow/directory"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	approvalflow.SetupLogger()

	//swap these for implementations backed by your own HR system
	dir := directory.NewStaticDirectory()
	roles := directory.NewStaticRoles()

	if err := approvalflow.Start(nil, approvalflow.Collaborators{
		Directory: dir,
		Roles:     roles,
		Notifier:  directory.LogNotifier{},
	}); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
