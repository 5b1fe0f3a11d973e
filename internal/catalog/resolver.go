package catalog

import (
	"fmt"

	"github.com/jmylchreest/vidmux/internal/models"
)

// Resolve looks up formatID and classifies it. It performs no I/O.
func (c Catalog) Resolve(formatID string) (models.Selection, error) {
	for _, d := range c {
		if d.ID == formatID {
			return models.Selection{
				Descriptor:  d,
				Progressive: d.Progressive,
				VideoOnly:   d.VideoOnly(),
			}, nil
		}
	}
	return models.Selection{}, fmt.Errorf("%w: %s", models.ErrFormatNotFound, formatID)
}
