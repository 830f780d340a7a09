package txtlog

// Cross-validation of the decoded stream against the Details-area metadata.
// Failures here never abort a decode; they feed the warnings ledger and the
// summary's partial-confidence flag.

func (s *session) runChecks() {
	if s.details == nil {
		s.warnf("no-details", 0, "no details metadata found; field assumptions could not be cross-checked")
	} else if s.details.Serial != "" && s.hdr.Serial != "" && s.details.Serial != s.hdr.Serial {
		s.warnf("serial-mismatch", 0, "details serial %q disagrees with header serial %q", s.details.Serial, s.hdr.Serial)
	}

	if len(s.points) == 0 {
		s.warnf("no-telemetry", 0, "records area yielded no data points")
	}

	if s.hdr.Encrypted() && s.decryptBad > 0 {
		if s.encrypted > 0 && s.decryptBad*2 >= s.encrypted {
			s.errorf("pervasive-decrypt-failure", 0,
				"%d of %d encrypted records failed to decrypt; file should not be trusted", s.decryptBad, s.encrypted)
		}
	}
}

// partial reports whether the summary should carry the low-confidence flag:
// the decode ran, but its assumptions could not be confirmed against the
// Details-area metadata.
func (s *session) partial() bool {
	if s.details == nil {
		return true
	}
	if s.details.Serial != "" && s.hdr.Serial != "" && s.details.Serial != s.hdr.Serial {
		return true
	}
	return false
}
