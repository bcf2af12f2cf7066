package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookingflow/services/lifecycle-service/internal/rules"
)

func loadRuleSet(file, tz string) (rules.RuleSet, error) {
	if file != "" {
		return rules.LoadFile(file)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("unknown time zone %q", tz)
	}
	return rules.DefaultRuleSet(loc), nil
}
