package application

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	alerts "hydroponics-cloud/internal/alerts/domain"
	masterdata "hydroponics-cloud/internal/masterdata/domain"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

// DecisionKind is the kind of side effect an evaluation asks for.
type DecisionKind string

const (
	DecisionAlertRaised  DecisionKind = "alert_raised"
	DecisionAlertCleared DecisionKind = "alert_cleared"
	DecisionStart        DecisionKind = "start"
	DecisionStop         DecisionKind = "stop"
	DecisionSkipped      DecisionKind = "skipped"
)

// Decision is one side effect computed by Evaluate.
type Decision struct {
	Kind      DecisionKind
	Parameter string
	Action    string
	Role      masterdata.Role
	DeviceID  string
	Magnitude float64
	Alert     alerts.ActiveAlert
}

// ActiveAction is the actuator action currently running for a parameter.
type ActiveAction struct {
	Action   string
	Role     masterdata.Role
	DeviceID string
}

// SessionState is the de-duplication state of one monitored group.
type SessionState struct {
	Alerts map[string]alerts.ActiveAlert
	Active map[string]ActiveAction
}

// NewSessionState constructs an empty state.
func NewSessionState() *SessionState {
	return &SessionState{
		Alerts: make(map[string]alerts.ActiveAlert),
		Active: make(map[string]ActiveAction),
	}
}

// ActiveAlerts returns the alerts ordered by parameter.
func (s *SessionState) ActiveAlerts() []alerts.ActiveAlert {
	result := make([]alerts.ActiveAlert, 0, len(s.Alerts))
	for _, alert := range s.Alerts {
		result = append(result, alert)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Parameter < result[j].Parameter })
	return result
}

// ForgetAction drops the active action of a parameter if it still matches.
func (s *SessionState) ForgetAction(parameter, action string) bool {
	active, ok := s.Active[parameter]
	if !ok || active.Action != action {
		return false
	}
	delete(s.Active, parameter)
	return true
}

// ClearCommand drops whichever parameter holds the (role, action) slot. It returns the parameter.
func (s *SessionState) ClearCommand(role masterdata.Role, action string) (string, bool) {
	for parameter, active := range s.Active {
		if active.Role == role && active.Action == action {
			delete(s.Active, parameter)
			return parameter, true
		}
	}
	return "", false
}

// Input is everything one evaluation needs.
type Input struct {
	UserID  string
	GroupID string
	Reading sensors.Reading
	// Target may be nil; target rules are then skipped.
	Target  *sensors.ControlTarget
	Rules   []alerts.Rule
	Devices masterdata.DeviceLookup
	Now     time.Time
}

// Evaluate compares the reading with the rules and updates state. It is deterministic and does no
// I/O; the returned decisions are applied by the caller in order.
func Evaluate(state *SessionState, in Input) []Decision {
	if state == nil {
		return nil
	}
	var decisions []Decision
	manual := in.Target != nil && in.Target.Manual()

	for _, rule := range in.Rules {
		switch {
		case rule.Categorical():
			text := in.Reading.Text(rule.Parameter)
			action, bad := rule.Categories[text]
			if !bad {
				decisions = clearParameter(state, rule, decisions)
				continue
			}
			alert := newAlert(in, rule, action, 0, 0, 0)
			alert.CurrentText = text
			alert.Message = fmt.Sprintf("%s is %s: %s", rule.Label, text, action)
			decisions = breach(state, in, rule, alert, manual, decisions)

		case rule.Ranged():
			current := in.Reading.Number(rule.Parameter)
			switch {
			case rule.Min != nil && current < *rule.Min:
				decisions = breach(state, in, rule, rangeAlert(in, rule, rule.Increase.Action, current, *rule.Min, "minimum"), manual, decisions)
			case rule.Max != nil && current > *rule.Max:
				decisions = breach(state, in, rule, rangeAlert(in, rule, rule.Decrease.Action, current, *rule.Max, "maximum"), manual, decisions)
			default:
				decisions = clearParameter(state, rule, decisions)
			}

		default:
			if in.Target == nil {
				continue
			}
			target, ok := in.Target.Value(rule.Parameter)
			if !ok {
				continue
			}
			current := in.Reading.Number(rule.Parameter)
			diff := round3(current - target)
			if math.Abs(diff) < rule.Threshold {
				decisions = clearParameter(state, rule, decisions)
				continue
			}
			action := rule.Increase.Action
			if diff > 0 {
				action = rule.Decrease.Action
			}
			magnitude := math.Abs(diff)
			alert := newAlert(in, rule, action, current, target, magnitude)
			alert.Message = fmt.Sprintf("%s is %s, target %s: %s by %s",
				rule.Label, formatNumber(current), formatNumber(target), action, formatNumber(magnitude))
			decisions = breach(state, in, rule, alert, manual, decisions)
		}
	}
	return decisions
}

func breach(state *SessionState, in Input, rule alerts.Rule, alert alerts.ActiveAlert, manual bool, decisions []Decision) []Decision {
	previous, had := state.Alerts[rule.Parameter]
	state.Alerts[rule.Parameter] = alert
	if !had || previous.TriggeredAction != alert.TriggeredAction {
		decisions = append(decisions, Decision{
			Kind:      DecisionAlertRaised,
			Parameter: rule.Parameter,
			Action:    alert.TriggeredAction,
			Magnitude: alert.Magnitude,
			Alert:     alert,
		})
	}
	if !rule.Controls() {
		return decisions
	}

	active, isActive := state.Active[rule.Parameter]
	if manual {
		if isActive {
			decisions = append(decisions, stopDecision(rule.Parameter, active))
			delete(state.Active, rule.Parameter)
		}
		return decisions
	}
	if isActive && active.Action == alert.TriggeredAction {
		return decisions
	}
	if isActive {
		decisions = append(decisions, stopDecision(rule.Parameter, active))
		delete(state.Active, rule.Parameter)
	}

	correction, _ := rule.CorrectionFor(alert.TriggeredAction)
	deviceID, ok := in.Devices.Resolve(correction.Role)
	if !ok {
		return append(decisions, Decision{
			Kind:      DecisionSkipped,
			Parameter: rule.Parameter,
			Action:    alert.TriggeredAction,
			Role:      correction.Role,
			Magnitude: alert.Magnitude,
		})
	}
	state.Active[rule.Parameter] = ActiveAction{Action: alert.TriggeredAction, Role: correction.Role, DeviceID: deviceID}
	return append(decisions, Decision{
		Kind:      DecisionStart,
		Parameter: rule.Parameter,
		Action:    alert.TriggeredAction,
		Role:      correction.Role,
		DeviceID:  deviceID,
		Magnitude: alert.Magnitude,
	})
}

func clearParameter(state *SessionState, rule alerts.Rule, decisions []Decision) []Decision {
	if previous, had := state.Alerts[rule.Parameter]; had {
		delete(state.Alerts, rule.Parameter)
		decisions = append(decisions, Decision{
			Kind:      DecisionAlertCleared,
			Parameter: rule.Parameter,
			Action:    previous.TriggeredAction,
			Alert:     previous,
		})
	}
	if active, isActive := state.Active[rule.Parameter]; isActive {
		decisions = append(decisions, stopDecision(rule.Parameter, active))
		delete(state.Active, rule.Parameter)
	}
	return decisions
}

// ReleaseUnmapped stops every active action whose device no longer resolves for its role, so the
// next evaluation can start it on the current device.
func ReleaseUnmapped(state *SessionState, devices masterdata.DeviceLookup) []Decision {
	parameters := make([]string, 0, len(state.Active))
	for parameter := range state.Active {
		parameters = append(parameters, parameter)
	}
	sort.Strings(parameters)

	var decisions []Decision
	for _, parameter := range parameters {
		active := state.Active[parameter]
		if deviceID, ok := devices.Resolve(active.Role); ok && deviceID == active.DeviceID {
			continue
		}
		decisions = append(decisions, stopDecision(parameter, active))
		delete(state.Active, parameter)
	}
	return decisions
}

func stopDecision(parameter string, active ActiveAction) Decision {
	return Decision{
		Kind:      DecisionStop,
		Parameter: parameter,
		Action:    active.Action,
		Role:      active.Role,
		DeviceID:  active.DeviceID,
	}
}

func newAlert(in Input, rule alerts.Rule, action string, current, target, magnitude float64) alerts.ActiveAlert {
	severity := alerts.SeverityWarning
	if rule.Controls() {
		severity = alerts.SeverityAction
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return alerts.ActiveAlert{
		UserID:          in.UserID,
		GroupID:         in.GroupID,
		Parameter:       rule.Parameter,
		TriggeredAction: action,
		Current:         current,
		Target:          target,
		Magnitude:       magnitude,
		Severity:        severity,
		Timestamp:       now,
	}
}

func rangeAlert(in Input, rule alerts.Rule, action string, current, bound float64, boundName string) alerts.ActiveAlert {
	magnitude := round3(math.Abs(current - bound))
	alert := newAlert(in, rule, action, current, bound, magnitude)
	alert.Message = fmt.Sprintf("%s is %s, %s %s: %s by %s",
		rule.Label, formatNumber(current), boundName, formatNumber(bound), action, formatNumber(magnitude))
	return alert
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
