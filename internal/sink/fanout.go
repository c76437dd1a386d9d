package sink

import "errors"

// Fanout forwards each record to every sink in order.
type Fanout []Sink

func (f Fanout) Log(entity string, text TextLog) error {
	var errs []error
	for _, s := range f {
		if err := s.Log(entity, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
