package others

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootwatch/cmd/core"
	"github.com/projecteru2/bootwatch/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Version(cmd *cobra.Command, _ []string) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), version.String())
	return err
}
