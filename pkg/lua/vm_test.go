package lua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siohaza/dogfight/internal/protocol"
)

func TestSandbox(t *testing.T) {
	vm := NewVM()
	require.NoError(t, vm.LoadString(`has_os = os ~= nil; has_io = io ~= nil`))

	results, err := vm.CallFunctionWithReturn("tostring", 1, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", results[0])

	require.NoError(t, vm.LoadString(`function check() return has_os or has_io end`))
	results, err = vm.CallFunctionWithReturn("check", 1)
	require.NoError(t, err)
	assert.Equal(t, false, results[0])
}

func TestGlobals(t *testing.T) {
	vm := NewVM()
	require.NoError(t, vm.LoadString(`name = "ctf"; bonus = 3`))

	name, err := vm.GetGlobalString("name")
	require.NoError(t, err)
	assert.Equal(t, "ctf", name)

	_, err = vm.GetGlobalString("bonus")
	assert.Error(t, err)

	_, err = vm.GetGlobalString("missing")
	assert.Error(t, err)
	assert.Equal(t, 0, vm.Top())
}

func TestPushPlayer(t *testing.T) {
	vm := NewVM()
	require.NoError(t, vm.LoadString(`
		function describe(p, scores)
			return p.name .. ":" .. p.team .. ":" .. p.position.x, scores.blue
		end
	`))

	p := Player(protocol.PlayerState{ID: "a", Name: "Goose", Team: protocol.TeamBlue, Position: protocol.Vector3{X: 12}})
	results, err := vm.CallFunctionWithReturn("describe", 2, p, Scores(protocol.Scores{Blue: 4}))
	require.NoError(t, err)
	assert.Equal(t, "Goose:blue:12", results[0])
	assert.Equal(t, 4.0, results[1])
	assert.Equal(t, 0, vm.Top())
}

func TestCallErrors(t *testing.T) {
	vm := NewVM()
	require.NoError(t, vm.LoadString(`function boom() error("bad") end`))

	assert.False(t, vm.HasFunction("missing"))
	assert.Error(t, vm.CallFunction("missing"))
	assert.Error(t, vm.CallFunction("boom"))
	assert.Error(t, vm.CallFunction("boom", struct{}{}))
	assert.Equal(t, 0, vm.Top())
}

type fakeMatch struct {
	chats  []string
	scores map[protocol.Team]int
}

func (f *fakeMatch) SendSystemChat(sessionID, message string) bool {
	f.chats = append(f.chats, sessionID+":"+message)
	return true
}

func (f *fakeMatch) TeamScore(sessionID string, team protocol.Team) (int, bool) {
	return f.scores[team], sessionID == "s1"
}

func (f *fakeMatch) AddTeamScore(sessionID string, team protocol.Team, points int) bool {
	f.scores[team] += points
	return true
}

func TestGameAPI(t *testing.T) {
	match := &fakeMatch{scores: map[protocol.Team]int{protocol.TeamRed: 2}}
	vm := NewVM()
	NewGameAPI(match, nil).RegisterFunctions(vm)

	require.NoError(t, vm.LoadString(`
		add_team_score("s1", "red", 5)
		send_chat("s1", "score is " .. get_team_score("s1", "red"))
		log("loaded")
	`))

	assert.Equal(t, 7, match.scores[protocol.TeamRed])
	assert.Equal(t, []string{"s1:score is 7"}, match.chats)
}
