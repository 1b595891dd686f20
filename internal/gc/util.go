package gc

import (
	"errors"

	"github.com/swathicitrix/vhdsr/internal/vhderr"
)

func isNotFound(err error) bool {
	var nf *vhderr.NotFoundError

	return errors.As(err, &nf)
}
