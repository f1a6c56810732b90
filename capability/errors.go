/*
Copyright 2025 The Kubernetes resource-state-metrics Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package capability

import (
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// IsDesync reports whether err is the API server telling us it can no
// longer resume a watch from the resource version we offered (HTTP 410,
// reason Expired or Gone). An ApiClient implementation wrapping a real
// Kubernetes client is expected to surface this using
// k8s.io/apimachinery's *errors.StatusError, which these checks
// recognize directly.
func IsDesync(err error) bool {
	if err == nil {
		return false
	}
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}
