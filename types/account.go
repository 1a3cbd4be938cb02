package types

import (
	"sort"
	"time"
)

// OwnerRole tells whether this wallet initiated the account.
type OwnerRole int8

const (
	OwnerParticipant OwnerRole = 0
	OwnerInitiator   OwnerRole = 1
	// OwnerBoth: the wallet initiated the account and also controls another member.
	OwnerBoth OwnerRole = 2
)

type AccountStatus int8

const (
	AccountInitiating AccountStatus = 0
	AccountPending    AccountStatus = 1
	AccountConfirmed  AccountStatus = 2
	AccountDeployed   AccountStatus = 3
	AccountCanceled   AccountStatus = 4
)

var accountStatusNames = map[AccountStatus]string{
	AccountInitiating: "initiating",
	AccountPending:    "pending",
	AccountConfirmed:  "confirmed",
	AccountDeployed:   "deployed",
	AccountCanceled:   "canceled",
}

func (s AccountStatus) String() string {
	if name, ok := accountStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s AccountStatus) IsValid() bool {
	_, ok := accountStatusNames[s]
	return ok
}

// Rank orders account statuses by confidence. Initiating and Pending are the
// same stage seen from the initiator and from a participant.
func (s AccountStatus) Rank() int {
	switch s {
	case AccountInitiating, AccountPending:
		return 0
	case AccountConfirmed:
		return 1
	case AccountCanceled:
		return 2
	case AccountDeployed:
		return 3
	default:
		return -1
	}
}

// MergeAccountStatus returns the higher-confidence status. Ties keep stored.
func MergeAccountStatus(stored, incoming AccountStatus) AccountStatus {
	if incoming.Rank() > stored.Rank() {
		return incoming
	}
	return stored
}

type MultisigAccount struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ChainCode     ChainCode     `json:"chain_code"`
	Address       string        `json:"address"`
	InitiatorAddr string        `json:"initiator_addr"`
	Threshold     int           `json:"threshold"`
	MemberNum     int           `json:"member_num"`
	Owner         OwnerRole     `json:"owner"`
	Status        AccountStatus `json:"status"`
	AddressType   string        `json:"address_type"`
	Salt          string        `json:"salt"`
	AuthorityAddr string        `json:"authority_addr"`
	DeployHash    string        `json:"deploy_hash"`
	FeeHash       string        `json:"fee_hash"`
	FeeChain      string        `json:"fee_chain"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (a *MultisigAccount) Clone() *MultisigAccount {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// MergeAccount folds incoming into stored following the confidence order.
// Identity fields are immutable. Deploy fields are taken from incoming on the
// transition into Deployed; between two Deployed views the lower deploy hash
// wins so every member converges on the same deployment. Otherwise only
// empty fields are filled.
func MergeAccount(stored, incoming *MultisigAccount) (*MultisigAccount, bool) {
	if stored == nil {
		return incoming.Clone(), incoming != nil
	}
	if incoming == nil {
		return stored, false
	}
	merged := stored.Clone()
	merged.Status = MergeAccountStatus(stored.Status, incoming.Status)

	overwrite := false
	switch {
	case stored.Status != AccountDeployed && merged.Status == AccountDeployed:
		overwrite = incoming.Status == AccountDeployed
	case stored.Status == AccountDeployed && incoming.Status == AccountDeployed:
		overwrite = incoming.DeployHash != "" && (stored.DeployHash == "" || incoming.DeployHash < stored.DeployHash)
	}
	adopt := func(dst *string, src string) {
		if src != "" && (*dst == "" || overwrite) {
			*dst = src
		}
	}
	adopt(&merged.Address, incoming.Address)
	adopt(&merged.Salt, incoming.Salt)
	adopt(&merged.AuthorityAddr, incoming.AuthorityAddr)
	adopt(&merged.DeployHash, incoming.DeployHash)
	adopt(&merged.FeeHash, incoming.FeeHash)
	adopt(&merged.FeeChain, incoming.FeeChain)
	if merged.AddressType == "" {
		merged.AddressType = incoming.AddressType
	}
	if merged.InitiatorAddr == "" {
		merged.InitiatorAddr = incoming.InitiatorAddr
	}
	if merged.Name == "" {
		merged.Name = incoming.Name
	}

	changed := *merged != *stored
	return merged, changed
}

type MultisigMember struct {
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Pubkey    string `json:"pubkey"`
	Confirmed bool   `json:"confirmed"`
	UID       string `json:"uid"`
	IsSelf    bool   `json:"is_self"`
}

func (m *MultisigMember) Clone() *MultisigMember {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// MergeMember applies the member rules: confirmed never goes back to false and
// a known pubkey or uid is never replaced by an empty one. is_self is local
// knowledge and always kept from stored.
func MergeMember(stored, incoming *MultisigMember) (*MultisigMember, bool) {
	if stored == nil {
		return incoming.Clone(), incoming != nil
	}
	if incoming == nil {
		return stored, false
	}
	merged := stored.Clone()
	merged.Confirmed = stored.Confirmed || incoming.Confirmed
	if merged.Pubkey == "" {
		merged.Pubkey = incoming.Pubkey
	}
	if merged.UID == "" {
		merged.UID = incoming.UID
	}
	if merged.Name == "" {
		merged.Name = incoming.Name
	}
	return merged, *merged != *stored
}

// MultisigAccountData is an account together with its member set.
type MultisigAccountData struct {
	Account *MultisigAccount  `json:"account"`
	Members []*MultisigMember `json:"members"`
}

func (d *MultisigAccountData) Member(address string) *MultisigMember {
	for _, m := range d.Members {
		if SameAddress(m.Address, address) {
			return m
		}
	}
	return nil
}

func (d *MultisigAccountData) AllConfirmed() bool {
	if len(d.Members) == 0 {
		return false
	}
	for _, m := range d.Members {
		if !m.Confirmed {
			return false
		}
	}
	return true
}

func (d *MultisigAccountData) ConfirmedCount() int {
	n := 0
	for _, m := range d.Members {
		if m.Confirmed {
			n++
		}
	}
	return n
}

// SelfMembers returns the members controlled by this wallet in ascending address order.
func (d *MultisigAccountData) SelfMembers() []*MultisigMember {
	var out []*MultisigMember
	for _, m := range d.Members {
		if m.IsSelf {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessAddress(out[i].Address, out[j].Address) })
	return out
}

// PeerUIDs returns the distinct uids of members not controlled by this wallet.
func (d *MultisigAccountData) PeerUIDs(local []string) []string {
	skip := make(map[string]struct{}, len(local))
	for _, uid := range local {
		skip[uid] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range d.Members {
		if m.UID == "" {
			continue
		}
		if _, ok := skip[m.UID]; ok {
			continue
		}
		if _, ok := seen[m.UID]; ok {
			continue
		}
		seen[m.UID] = struct{}{}
		out = append(out, m.UID)
	}
	sort.Strings(out)
	return out
}

// HasAllPubkeys reports whether every member has published its public key.
func (d *MultisigAccountData) HasAllPubkeys() bool {
	for _, m := range d.Members {
		if m.Pubkey == "" {
			return false
		}
	}
	return len(d.Members) > 0
}
