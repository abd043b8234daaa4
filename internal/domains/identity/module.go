//goland:noinspection GoNameStartsWithPackageName
package identity

import (
	identityusecase "graphauth/go-backend/internal/domains/identity/usecase"
)

type Service = identityusecase.Service
type Deps = identityusecase.Deps

func NewService(deps Deps) *Service {
	return identityusecase.NewService(deps)
}
