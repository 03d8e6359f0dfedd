package chain

// Minimal ABIs of the three protocol contracts: only the functions and
// events this node touches.

const coreABI = `[
 {"type":"function","name":"acceptOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"commitSolution","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"commitHash","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"revealSolution","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"solution","type":"string"},{"name":"salt","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"getOrderBot","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"event","name":"ProblemPosted","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"issuer","type":"address"},{"indexed":false,"name":"problemType","type":"uint8"},{"indexed":false,"name":"timeTier","type":"uint8"},{"indexed":false,"name":"reward","type":"uint256"}]},
 {"type":"event","name":"OrderAccepted","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"solver","type":"address"}]},
 {"type":"event","name":"OrderAssignedToBot","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"bot","type":"address"},{"indexed":false,"name":"targetType","type":"uint8"}]},
 {"type":"event","name":"SolutionCommitted","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"solver","type":"address"},{"indexed":false,"name":"commitHash","type":"bytes32"}]},
 {"type":"event","name":"SolutionRevealed","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"solver","type":"address"},{"indexed":false,"name":"solution","type":"string"}]},
 {"type":"event","name":"ChallengeSubmitted","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"challenger","type":"address"},{"indexed":false,"name":"stake","type":"uint256"}]},
 {"type":"event","name":"ChallengeResolved","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":false,"name":"challengerWon","type":"bool"},{"indexed":false,"name":"winner","type":"address"}]},
 {"type":"event","name":"OrderExpired","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"}]},
 {"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"}]}
]`

const orderBookABI = `[
 {"type":"function","name":"getOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"id","type":"uint256"},{"name":"issuer","type":"address"},{"name":"problemHash","type":"bytes32"},{"name":"problemType","type":"uint8"},{"name":"timeTier","type":"uint8"},{"name":"status","type":"uint8"},{"name":"reward","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"solver","type":"address"}]}]},
 {"type":"function","name":"getOpenOrders","stateMutability":"view","inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"issuer","type":"address"},{"name":"problemHash","type":"bytes32"},{"name":"problemType","type":"uint8"},{"name":"timeTier","type":"uint8"},{"name":"status","type":"uint8"},{"name":"reward","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"solver","type":"address"}]}]},
 {"type":"function","name":"orderCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"openOrderCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const verifierABI = `[
 {"type":"function","name":"getPendingVerificationsCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getPendingVerifications","stateMutability":"view","inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getVerificationRequest","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"solution","type":"string"},{"name":"problemType","type":"uint8"},{"name":"requestTime","type":"uint256"},{"name":"isProcessed","type":"bool"},{"name":"isCorrect","type":"bool"},{"name":"verificationReason","type":"string"}]},
 {"type":"function","name":"getPendingChallengesCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getPendingChallenges","stateMutability":"view","inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getChallenge","stateMutability":"view","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"challenger","type":"address"},{"name":"stake","type":"uint256"},{"name":"reason","type":"string"},{"name":"challengeTime","type":"uint256"},{"name":"resolved","type":"bool"},{"name":"challengerWon","type":"bool"}]}]},
 {"type":"function","name":"verifyAndSettle","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"isCorrect","type":"bool"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"submitVerificationResult","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"isCorrect","type":"bool"},{"name":"reason","type":"string"}],"outputs":[]},
 {"type":"function","name":"resolveChallenge","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"},{"name":"challengerWon","type":"bool"}],"outputs":[]},
 {"type":"event","name":"VerificationRequested","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":false,"name":"solution","type":"string"},{"indexed":false,"name":"problemType","type":"uint8"}]},
 {"type":"event","name":"ChallengeCreated","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"challenger","type":"address"},{"indexed":false,"name":"reason","type":"string"}]},
 {"type":"event","name":"SolutionVerified","anonymous":false,"inputs":[{"indexed":true,"name":"orderId","type":"uint256"},{"indexed":true,"name":"solver","type":"address"}]}
]`

// eventFields names the ABI argument feeding each Event payload field.
type eventFields struct {
	Account     string
	Amount      string
	Hash        string
	Text        string
	Flag        string
	ProblemType string
	TimeTier    string
}

type eventDef struct {
	contract string
	fields   eventFields
}

const (
	contractCore      = "core"
	contractOrderBook = "orderbook"
	contractVerifier  = "verifier"
)

var eventDefs = map[EventKind]eventDef{
	EventProblemPosted:         {contractCore, eventFields{Account: "issuer", Amount: "reward", ProblemType: "problemType", TimeTier: "timeTier"}},
	EventOrderAccepted:         {contractCore, eventFields{Account: "solver"}},
	EventOrderAssignedToBot:    {contractCore, eventFields{Account: "bot", ProblemType: "targetType"}},
	EventSolutionCommitted:     {contractCore, eventFields{Account: "solver", Hash: "commitHash"}},
	EventSolutionRevealed:      {contractCore, eventFields{Account: "solver", Text: "solution"}},
	EventChallengeSubmitted:    {contractCore, eventFields{Account: "challenger", Amount: "stake"}},
	EventChallengeResolved:     {contractCore, eventFields{Account: "winner", Flag: "challengerWon"}},
	EventOrderExpired:          {contractCore, eventFields{}},
	EventOrderCancelled:        {contractCore, eventFields{}},
	EventVerificationRequested: {contractVerifier, eventFields{Text: "solution", ProblemType: "problemType"}},
	EventChallengeCreated:      {contractVerifier, eventFields{Account: "challenger", Text: "reason"}},
	EventSolutionVerified:      {contractVerifier, eventFields{Account: "solver"}},
}

// methodContracts routes every function name to the contract that defines it.
var methodContracts = map[string]string{
	"acceptOrder":                  contractCore,
	"commitSolution":               contractCore,
	"revealSolution":               contractCore,
	"getOrderBot":                  contractCore,
	"getOrder":                     contractOrderBook,
	"getOpenOrders":                contractOrderBook,
	"orderCount":                   contractOrderBook,
	"openOrderCount":               contractOrderBook,
	"getPendingVerificationsCount": contractVerifier,
	"getPendingVerifications":      contractVerifier,
	"getVerificationRequest":       contractVerifier,
	"getPendingChallengesCount":    contractVerifier,
	"getPendingChallenges":         contractVerifier,
	"getChallenge":                 contractVerifier,
	"verifyAndSettle":              contractVerifier,
	"submitVerificationResult":     contractVerifier,
	"resolveChallenge":             contractVerifier,
}
